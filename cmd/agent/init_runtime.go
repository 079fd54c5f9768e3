package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"teacher-agent/internal/adapter/blob"
	"teacher-agent/internal/adapter/gateway"
	"teacher-agent/internal/adapter/records"
	"teacher-agent/internal/domain"
	"teacher-agent/internal/infra/config"
	"teacher-agent/internal/usecase"
	"teacher-agent/internal/usecase/capability"
	"teacher-agent/internal/usecase/eventbus"
	"teacher-agent/internal/usecase/multiagent"
	"teacher-agent/internal/usecase/scheduling"
)

// historyEncoding is the tiktoken encoding used to size history windows.
const historyEncoding = "cl100k_base"

// RuntimeComponents holds the services started by serve.
type RuntimeComponents struct {
	Bus       *eventbus.Bus
	Sessions  *usecase.SessionStore
	Chat      *usecase.ChatService
	Live      *usecase.LiveService
	Gateway   *gateway.Server
	Scheduler *scheduling.Scheduler
}

// initRuntime wires oracles, capabilities, router, services and the gateway.
// The returned cleanup releases the records backend and the event bus.
func initRuntime(ctx context.Context, cfg *config.Config, oc *OracleComponents, log *slog.Logger) (*RuntimeComponents, func() error, error) {
	bus := eventbus.New(log)
	cleanups := []func() error{func() error { bus.Close(); return nil }}
	cleanup := func() error {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*RuntimeComponents, func() error, error) {
		_ = cleanup()
		return nil, nil, err
	}

	// 1. Collaborators of the capabilities
	blobs, err := blob.NewLocalStore(cfg.Blob.Dir, cfg.Blob.BaseURL, log)
	if err != nil {
		return fail(fmt.Errorf("blob store: %w", err))
	}
	directory, closeDirectory, err := records.OpenDirectory(ctx, cfg.Records, log)
	if err != nil {
		return fail(fmt.Errorf("records: %w", err))
	}
	cleanups = append(cleanups, closeDirectory)
	if directory == nil {
		log.Warn("student records disabled; analytics requests will fail", "driver", cfg.Records.Driver)
	}

	// 2. Capabilities and router
	pc, _ := cfg.Provider(cfg.Oracle.DefaultProvider)
	caps := capability.All(capability.Deps{
		Options: capability.Options{
			Oracle: oc.Default,
			Model:  pc.Model,
			Window: capability.NewHistoryWindow(capability.NewTiktokenCounter(historyEncoding), cfg.Oracle.MaxHistoryTokens),
			Logger: log,
		},
		ImageModel: pc.ImageModel,
		Blobs:      blobs,
		Directory:  directory,
	})
	registry, err := multiagent.NewRegistry(domain.CapabilityClarify, log, caps...)
	if err != nil {
		return fail(fmt.Errorf("capability registry: %w", err))
	}
	strategy, err := initStrategy(cfg, oc, log)
	if err != nil {
		return fail(fmt.Errorf("routing: %w", err))
	}
	router := multiagent.NewRouter(registry, strategy,
		multiagent.WithMinConfidence(cfg.Routing.MinConfidence),
		multiagent.WithEventBus(bus),
		multiagent.WithLogger(log),
	)

	// 3. Services
	sessions := usecase.NewSessionStore(bus, log)
	rt := &RuntimeComponents{
		Bus:      bus,
		Sessions: sessions,
		Chat:     usecase.NewChatService(sessions, router, bus, cfg.Server.RequestTimeout, log),
		Live:     usecase.NewLiveService(sessions, router, oc.Live, cfg.Oracle.Voice, bus, log),
	}

	// 4. Gateway
	rt.Gateway = gateway.NewServer(cfg.Server, gateway.Deps{
		Chat:     rt.Chat,
		Live:     rt.Live,
		Bus:      bus,
		AppName:  cfg.App.Name,
		Version:  version,
		MediaDir: blobs.Root(),
		MediaURL: cfg.Blob.BaseURL,
		Logger:   log,
	})

	// 5. Idle session reaper
	if cfg.Sessions.IdleTTL > 0 {
		sched, err := initScheduler(cfg.Sessions, sessions, log)
		if err != nil {
			return fail(err)
		}
		rt.Scheduler = sched
	}

	return rt, cleanup, nil
}

func initScheduler(cfg config.SessionsConfig, sessions *usecase.SessionStore, log *slog.Logger) (*scheduling.Scheduler, error) {
	sched := scheduling.NewScheduler(log)
	sched.RegisterAction(scheduling.ActionSessionReap, func(ctx context.Context) error {
		if reaped := sessions.ReapIdle(ctx, domain.NamespaceHTTP, cfg.IdleTTL); len(reaped) > 0 {
			log.Info("reaped idle sessions", "count", len(reaped))
		}
		return nil
	})
	if err := sched.AddTask(scheduling.ScheduledTask{
		Name:     "reap-idle-http-sessions",
		Schedule: cfg.ReapSchedule,
		Action:   scheduling.ActionSessionReap,
	}); err != nil {
		return nil, err
	}
	return sched, nil
}
