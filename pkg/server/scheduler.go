package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"NightScan/internal/domain/errs"
	applogger "NightScan/pkg/logger"
)

// cronLogger adapts the app logger to cron.Logger.
type cronLogger struct {
	l *applogger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, applogger.Any("kv", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, applogger.Error(err), applogger.Any("kv", keysAndValues))
}

// runScheduled fires job on spec until ctx is done. An overlapping firing
// is skipped, and a job still running at shutdown is waited for.
func runScheduled(ctx context.Context, spec string, loc *time.Location, log *applogger.Logger, job func(context.Context)) error {
	cl := cronLogger{l: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	id, err := c.AddFunc(spec, func() { job(ctx) })
	if err != nil {
		return errs.Configuration("parse schedule", err)
	}

	c.Start()
	log.Info("scheduler started",
		applogger.String("spec", spec),
		applogger.String("timezone", loc.String()),
		applogger.String("next", c.Entry(id).Schedule.Next(time.Now().In(loc)).Format(time.RFC3339)),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("scheduler stopped")
	return nil
}
