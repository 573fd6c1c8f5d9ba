package server

import (
	"context"
	"fmt"
	"time"

	"NightScan/internal/domain/errs"
	"NightScan/internal/domain/models"
	xhttp "NightScan/pkg/http"
	applogger "NightScan/pkg/logger"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (models.PipelineRun, error)
}

// App drives pipeline runs on demand or on a schedule, optionally behind
// the read API.
type App struct {
	runner   Runner
	http     *xhttp.Server
	log      *applogger.Logger
	schedule string
	location *time.Location
}

// New creates an App. http may be nil when only run/schedule are used.
func New(runner Runner, http *xhttp.Server, log *applogger.Logger, schedule, timezone string) (*App, error) {
	if log == nil {
		log = applogger.NewNop()
	}
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, errs.Configuration("load timezone", err)
		}
	}
	return &App{
		runner:   runner,
		http:     http,
		log:      log,
		schedule: schedule,
		location: loc,
	}, nil
}

// RunOnce executes a single pipeline run.
func (a *App) RunOnce(ctx context.Context) (models.PipelineRun, error) {
	return a.runner.Run(ctx)
}

// Schedule runs the pipeline on the configured cron spec until ctx is done.
func (a *App) Schedule(ctx context.Context) error {
	return runScheduled(ctx, a.schedule, a.location, a.log, a.scheduledRun)
}

func (a *App) scheduledRun(ctx context.Context) {
	run, err := a.runner.Run(ctx)
	if err != nil {
		a.log.Error("scheduled run rejected", applogger.Error(err))
		return
	}
	a.log.Info("scheduled run finished",
		applogger.String("run_id", run.ID),
		applogger.String("coverage", run.Coverage),
	)
}

// Serve starts the HTTP server and the scheduler and blocks until ctx is
// done, then shuts the server down.
func (a *App) Serve(ctx context.Context) error {
	if a.http == nil {
		return fmt.Errorf("http server not configured")
	}
	if err := a.http.Start(); err != nil {
		return fmt.Errorf("http start: %w", err)
	}

	err := a.Schedule(ctx)

	a.log.Info("shutdown signal received")
	if serr := a.http.Stop(context.WithoutCancel(ctx)); serr != nil {
		a.log.Error("http shutdown error", applogger.Error(serr))
	}
	return err
}
