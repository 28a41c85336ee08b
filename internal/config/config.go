// Package config provides configuration for the discussion engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TurnOrderRoundRobin cycles agents in their configured order, one turn each
// per round.
const TurnOrderRoundRobin = "round_robin"

// Config holds the discussion engine configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Participants
	Agents []string
	Judges []string

	// Turn sequencing
	TurnOrder        string
	MaxRounds        int
	TurnRetries      int
	MaxToolCallsTurn int
	ToolFanout       int

	// Budgets
	SessionSpendCap  float64
	AgentCallCap     int
	SessionWallClock time.Duration
	AgentCallCost    float64
	JudgeCallCost    float64

	// Timeouts and retries
	AgentTimeout    time.Duration
	JudgeTimeout    time.Duration
	ToolMaxRetries  int
	ToolBackoffBase time.Duration

	// Capability endpoints; empty means the built-in stub capability.
	AgentEndpoint string
	JudgeEndpoint string
	ToolEndpoint  string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:      getEnv("DATABASE_URL", "file:discussion.db?cache=shared&mode=rwc"),
		Agents:           getEnvList("AGENTS", []string{"agent-1", "agent-2"}),
		Judges:           getEnvList("JUDGES", []string{"judge-1"}),
		TurnOrder:        getEnv("TURN_ORDER", TurnOrderRoundRobin),
		MaxRounds:        getEnvInt("MAX_ROUNDS", 3),
		TurnRetries:      getEnvInt("TURN_RETRIES", 1),
		MaxToolCallsTurn: getEnvInt("MAX_TOOL_CALLS_PER_TURN", 8),
		ToolFanout:       getEnvInt("TOOL_FANOUT", 4),
		SessionSpendCap:  getEnvFloat("SESSION_SPEND_CAP", 5.0),
		AgentCallCap:     getEnvInt("AGENT_CALL_CAP", 20),
		SessionWallClock: getEnvDuration("SESSION_WALL_CLOCK_MS", 10*time.Minute),
		AgentCallCost:    getEnvFloat("AGENT_CALL_COST", 0.02),
		JudgeCallCost:    getEnvFloat("JUDGE_CALL_COST", 0.03),
		AgentTimeout:     getEnvDuration("AGENT_TIMEOUT_MS", 120*time.Second),
		JudgeTimeout:     getEnvDuration("JUDGE_TIMEOUT_MS", 120*time.Second),
		ToolMaxRetries:   getEnvInt("TOOL_MAX_RETRIES", 2),
		ToolBackoffBase:  getEnvDuration("TOOL_BACKOFF_BASE_MS", 200*time.Millisecond),
		AgentEndpoint:    getEnv("AGENT_ENDPOINT", ""),
		JudgeEndpoint:    getEnv("JUDGE_ENDPOINT", ""),
		ToolEndpoint:     getEnv("TOOL_ENDPOINT", ""),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if cfg.TurnOrder != TurnOrderRoundRobin {
		return nil, fmt.Errorf("unsupported turn order %q", cfg.TurnOrder)
	}
	if len(cfg.Agents) == 0 {
		return nil, fmt.Errorf("at least one agent is required")
	}
	if len(cfg.Judges) == 0 {
		return nil, fmt.Errorf("at least one judge is required")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if floatVal, err := strconv.ParseFloat(val, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return time.Duration(intVal) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
