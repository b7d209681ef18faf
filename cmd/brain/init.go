package main

import (
	"context"
	"fmt"
	"log/slog"

	"kilo-brain/internal/adapter/collaborator"
	"kilo-brain/internal/adapter/gateway"
	"kilo-brain/internal/adapter/llm"
	"kilo-brain/internal/adapter/memory"
	"kilo-brain/internal/adapter/tool"
	"kilo-brain/internal/domain"
	"kilo-brain/internal/infra/config"
	"kilo-brain/internal/usecase"
	"kilo-brain/internal/usecase/eventbus"
	"kilo-brain/internal/usecase/healthmon"
	"kilo-brain/internal/usecase/proactive"
	"kilo-brain/internal/usecase/scheduling"
)

// app holds the wired components of a running brain.
type app struct {
	llm       domain.LLMProvider
	tools     *tool.Registry
	store     *memory.SQLiteStore
	chat      *usecase.ChatService
	scheduler *scheduling.Scheduler
	monitor   *healthmon.Monitor // nil when disabled
	gateway   *gateway.Server
}

// buildApp constructs every component from cfg. The returned cleanup closes
// the store, MCP connections and event bus in reverse order.
func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Event bus
	bus := eventbus.New(log)
	closers = append(closers, bus.Close)

	// Memory & observations
	store, err := memory.New(cfg.Memory.Path, cfg.Memory.MaxObservations, log)
	if err != nil {
		return fail(fmt.Errorf("memory: %w", err))
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			log.Warn("memory store close failed", "error", err)
		}
	})

	// Collaborators
	services := collaborator.NewServices(cfg.Collaborators, log)

	// Tools
	tools := tool.NewRegistry(cfg.Tools.CallTimeout, bus, log)
	tool.RegisterCatalog(tools, tool.Collaborators{
		Meds:      services.Meds,
		Habits:    services.Habits,
		Finance:   services.Finance,
		Reminders: services.Reminders,
		Library:   services.Library,
	}, cfg.Tools, log)

	if len(cfg.Tools.MCPServers) > 0 {
		bridge, err := tool.NewMCPBridge(ctx, cfg.Tools.MCPServers, log)
		if err != nil {
			return fail(fmt.Errorf("mcp: %w", err))
		}
		closers = append(closers, bridge.Close)
		n := bridge.RegisterAll(tools)
		log.Info("mcp tools registered", "count", n)
	}

	// LLM
	_, provider, err := llm.Build(cfg.LLM, log)
	if err != nil {
		return fail(fmt.Errorf("llm: %w", err))
	}

	// Conversation & chat
	conv := usecase.NewConversation(usecase.ConversationDeps{
		LLM:           provider,
		Tools:         tools,
		Logger:        log,
		MaxIterations: cfg.Agent.MaxIterations,
		Timeout:       cfg.Agent.Timeout,
		Bus:           bus,
	})

	chatDeps := usecase.ChatDeps{
		Conversation:       conv,
		Logger:             log,
		SystemPrompt:       cfg.Agent.SystemPrompt,
		SkipKeywords:       cfg.Proactive.SkipKeywords,
		Memory:             store,
		RecallLimit:        cfg.Memory.RecallLimit,
		RecentObservations: cfg.Agent.RecentObservations,
		Bus:                bus,
	}
	if cfg.Proactive.Enabled {
		chatDeps.Gatherer = proactive.NewAssembler(proactive.Sources{
			Meds:      services.Meds,
			Habits:    services.Habits,
			Reminders: services.Reminders,
			Security:  services.Security,
			Finance:   services.Finance,
			Gateway:   services.Gateway,
		}, cfg.Proactive.CheckTimeout, log)
	}
	chat := usecase.NewChatService(chatDeps)

	// Scheduler & health monitor
	scheduler := scheduling.NewScheduler(log)
	var monitor *healthmon.Monitor
	if cfg.HealthMonitor.Enabled {
		targets := healthmon.Targets(cfg.HealthMonitor, cfg.Collaborators.Services())
		monitor = healthmon.New(cfg.HealthMonitor, targets, store, bus, log)
		if err := monitor.Schedule(scheduler); err != nil {
			return fail(fmt.Errorf("health monitor: %w", err))
		}
		log.Info("health monitor scheduled", "targets", len(targets), "schedule", cfg.HealthMonitor.Schedule)
	}

	// Gateway
	deps := gateway.Deps{
		Chat:         chat,
		Observations: store,
		Tools:        tools,
		Store:        store,
		Bus:          bus,
		Logger:       log,
	}
	if monitor != nil {
		deps.Health = monitor
	}
	srv := gateway.NewServer(cfg.Gateway, deps)

	return &app{
		llm:       provider,
		tools:     tools,
		store:     store,
		chat:      chat,
		scheduler: scheduler,
		monitor:   monitor,
		gateway:   srv,
	}, cleanup, nil
}
