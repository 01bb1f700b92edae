package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/jordanhubbard/ensemble/internal/auth"
	"github.com/jordanhubbard/ensemble/internal/character"
	"github.com/jordanhubbard/ensemble/internal/logging"
	"github.com/jordanhubbard/ensemble/internal/messagebus"
	"github.com/jordanhubbard/ensemble/internal/metrics"
	"github.com/jordanhubbard/ensemble/internal/prompt"
	"github.com/jordanhubbard/ensemble/internal/providers"
	"github.com/jordanhubbard/ensemble/internal/results"
	"github.com/jordanhubbard/ensemble/internal/routing"
	"github.com/jordanhubbard/ensemble/internal/rpc"
	"github.com/jordanhubbard/ensemble/internal/runner"
	"github.com/jordanhubbard/ensemble/internal/scheduler"
	"github.com/jordanhubbard/ensemble/internal/usage"
	"github.com/jordanhubbard/ensemble/internal/workspace"
	"github.com/jordanhubbard/ensemble/pkg/config"
)

// app holds the long-lived components shared by every command.
type app struct {
	cfg       *config.Config
	logs      *logging.Manager
	metrics   *metrics.Metrics
	store     *character.Store
	usage     *usage.Recorder
	prompts   *prompt.Assembler
	router    *routing.Router
	runner    *runner.Runner
	results   results.Store
	bus       *messagebus.NatsMessageBus
	workspace *workspace.Client
	mailbox   *providers.Mailbox
	calendar  *providers.Calendar
	scheduler *scheduler.Scheduler
	auth      *auth.Manager

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logs *logging.Manager) (*app, error) {
	a := &app{cfg: cfg, logs: logs, metrics: metrics.NewMetrics()}

	a.store = character.NewStore(cfg.Characters.Root)
	a.usage = usage.NewRecorder(cfg.Characters.UsageLog, a.metrics)
	a.closers = append(a.closers, a.usage.Close)

	a.prompts = prompt.NewAssembler(a.store, a.usage, cfg.Characters.ArchitectID, cfg.Characters.WorkspaceMarker)
	a.router = routing.NewRouter(a.store, routing.Options{
		OverridesPath:  cfg.OverridesPath(),
		DefaultPersona: cfg.Routing.DefaultPersona,
		DevMode:        cfg.IsDevelopment(),
		Metrics:        a.metrics,
	})
	a.runner = &runner.Runner{
		Binary:       cfg.Agent.Binary,
		MCPConfig:    cfg.Agent.MCPConfig,
		Dir:          cfg.Agent.WorkDir,
		StripEnv:     cfg.Agent.StripEnv,
		Timeout:      cfg.Agent.Timeout,
		DefaultModel: cfg.Agent.DefaultModel,
		Metrics:      a.metrics,
	}

	store, err := results.New(ctx, cfg.Results)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("results store: %w", err)
	}
	a.results = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, func() { _ = c.Close() })
	}

	if cfg.NATS.URL != "" {
		bus, err := messagebus.NewNatsMessageBus(messagebus.Config{
			URL:           cfg.NATS.URL,
			Timeout:       cfg.NATS.Timeout,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
		})
		if err != nil {
			log.Printf("[NATS] Warning: %v; continuing without message bus", err)
		} else {
			a.bus = bus
			a.closers = append(a.closers, bus.Close)
		}
	}

	caller, err := a.workspaceCaller()
	if err != nil {
		a.close()
		return nil, err
	}
	a.workspace = workspace.NewClient(caller, cfg.Workspace.TaskTag)

	if p := cfg.Providers; p.MailEndpoint != "" {
		a.mailbox = providers.NewMailbox(rpc.NewHTTPCaller(p.MailEndpoint, p.Token, cfg.Workspace.Timeout), p.MailAccount)
	}
	if p := cfg.Providers; p.CalendarEndpoint != "" {
		a.calendar = providers.NewCalendar(rpc.NewHTTPCaller(p.CalendarEndpoint, p.Token, cfg.Workspace.Timeout), p.CalendarID)
	}

	registry, err := scheduler.NewRegistry(cfg.Scheduler.Jobs)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("job registry: %w", err)
	}
	deps := scheduler.Deps{
		Registry:     registry,
		Personas:     a.store,
		Prompts:      a.prompts,
		Router:       a.router,
		Tasks:        a.workspace,
		Executor:     a.runner,
		Results:      a.results,
		Metrics:      a.metrics,
		DefaultModel: cfg.Agent.DefaultModel,
		Location:     cfg.Location(),
	}
	// Only assign a live bus; a typed nil would defeat the scheduler's nil check.
	if a.bus != nil && cfg.NATS.PublishResults {
		deps.Publisher = a.bus
	}
	a.scheduler = scheduler.New(deps)

	a.auth = auth.NewManager(cfg.Security.JWTSecret, cfg.Security.APIKeys)
	return a, nil
}

func (a *app) workspaceCaller() (rpc.Caller, error) {
	ws := a.cfg.Workspace
	switch ws.Transport {
	case "nats":
		if a.bus == nil {
			return nil, fmt.Errorf("workspace transport is nats but no NATS connection is available")
		}
		return &rpc.NatsCaller{Conn: a.bus.Conn(), Subject: ws.Subject, CallerID: "ensemble"}, nil
	default:
		return rpc.NewHTTPCaller(ws.Endpoint, ws.Token, ws.Timeout), nil
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
