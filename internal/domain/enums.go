// Package domain defines the core domain models for the discussion engine.
package domain

// Phase represents the lifecycle state of a discussion session.
type Phase string

const (
	PhaseCreated  Phase = "CREATED"
	PhaseDrafting Phase = "DRAFTING"
	PhaseJudging  Phase = "JUDGING"
	PhaseResolved Phase = "RESOLVED"
	PhaseAborted  Phase = "ABORTED"
)

// IsTerminal reports whether no further transitions are allowed from p.
func (p Phase) IsTerminal() bool {
	return p == PhaseResolved || p == PhaseAborted
}

// CanTransition reports whether the session state machine allows from -> to.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseCreated:
		return to == PhaseDrafting || to == PhaseAborted
	case PhaseDrafting:
		return to == PhaseJudging || to == PhaseAborted
	case PhaseJudging:
		return to == PhaseDrafting || to == PhaseResolved || to == PhaseAborted
	}
	return false
}

// EventPhase is the phase tag recorded on a discussion event.
type EventPhase string

const (
	EventSessionCreated  EventPhase = "session_created"
	EventDraftingStarted EventPhase = "drafting_started"
	EventTurnStarted     EventPhase = "turn_started"
	EventTurnCompleted   EventPhase = "turn_completed"
	EventTurnFailed      EventPhase = "turn_failed"
	EventToolCompleted   EventPhase = "tool_completed"
	EventToolFailed      EventPhase = "tool_failed"
	EventJudgingStarted  EventPhase = "judging_started"
	EventVerdictRecorded EventPhase = "verdict_recorded"
	EventSessionResolved EventPhase = "session_resolved"
	EventSessionAborted  EventPhase = "session_aborted"
)

// PhaseForEvent maps a state-transition event tag to the session phase it
// makes visible. Non-transition tags return ok=false.
func PhaseForEvent(tag EventPhase) (Phase, bool) {
	switch tag {
	case EventSessionCreated:
		return PhaseCreated, true
	case EventDraftingStarted:
		return PhaseDrafting, true
	case EventJudgingStarted:
		return PhaseJudging, true
	case EventSessionResolved:
		return PhaseResolved, true
	case EventSessionAborted:
		return PhaseAborted, true
	}
	return "", false
}

// TurnStatus represents the status of an agent turn.
type TurnStatus string

const (
	TurnStatusRunning   TurnStatus = "RUNNING"
	TurnStatusCompleted TurnStatus = "COMPLETED"
	TurnStatusFailed    TurnStatus = "FAILED"
)
