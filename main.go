package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/agentcap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/judgecap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/adapter/toolcap"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/budget"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/config"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/eventlog"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/judge"
	store "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/repository"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/runner"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/service"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/tools"
	transport "github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/internal/transport/http"
	"github.com/jasonzdeng/The-Socratic-Method-of-Large-Language-Models/policy"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting discussion engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("Agents: %v, Judges: %v", cfg.Agents, cfg.Judges)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize tool policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Capability wiring; empty endpoints fall back to the builtin stubs.
	var agentCapability agentcap.Capability = agentcap.NewStub()
	if cfg.AgentEndpoint != "" {
		agentCapability = agentcap.NewClient(cfg.AgentEndpoint, cfg.AgentTimeout)
	}
	var judgeCapability judgecap.Capability = judgecap.NewStub()
	if cfg.JudgeEndpoint != "" {
		judgeCapability = judgecap.NewClient(cfg.JudgeEndpoint, cfg.JudgeTimeout)
	}
	var toolProvider tools.Provider = tools.NewBuiltinProvider()
	if cfg.ToolEndpoint != "" {
		toolProvider = toolcap.NewClient(cfg.ToolEndpoint, 0)
	}

	// Core components
	tracker := budget.NewTracker()
	events := eventlog.New(db)
	registry := tools.BuiltinRegistry()
	invoker := tools.NewInvoker(registry, toolProvider, policyEngine, tracker, cfg.ToolMaxRetries, cfg.ToolBackoffBase)
	turnRunner := runner.New(db, events, tracker, invoker, agentCapability,
		cfg.AgentCallCost, cfg.AgentTimeout, cfg.MaxToolCallsTurn, cfg.ToolFanout)
	panel := judge.New(db, events, tracker, judgeCapability, cfg.Judges, cfg.JudgeCallCost, cfg.JudgeTimeout)

	svc := service.New(db, events, tracker, turnRunner, panel, cfg)

	// HTTP server
	server := transport.NewServer(svc)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("API started on port %d", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down discussion engine...")

	// Stop accepting requests, then wind down live sessions.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	svc.CancelAll()

	log.Println("Discussion engine stopped")
}
