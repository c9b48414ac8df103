package main

import (
	"errors"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/vango-go/vai-sight/pkg/sight/config"
	"github.com/vango-go/vai-sight/pkg/sight/session"
)

// sentryReporter sends sessions that end in the Error status to Sentry.
type sentryReporter struct {
	session.BaseObserver
	capture func(err error, tags map[string]string)
}

func (r *sentryReporter) StatusChanged(snap session.Snapshot) {
	if snap.Status != session.StatusError || snap.Error == "" {
		return
	}
	r.capture(errors.New(snap.Error), map[string]string{
		"error_kind": string(snap.ErrorKind),
		"degraded":   boolTag(snap.Degraded),
	})
}

func boolTag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func captureWithTags(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// setupSentry initializes error reporting when a DSN is configured. The
// returned flush func is always safe to call.
func setupSentry(cfg config.Config, logger *slog.Logger) (*sentryReporter, func()) {
	if cfg.SentryDSN == "" {
		return nil, func() {}
	}
	environment := cfg.SentryEnvironment
	if environment == "" {
		environment = "development"
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: environment,
	})
	if err != nil {
		logger.Warn("sentry init failed", "err", err)
		return nil, func() {}
	}
	logger.Info("sentry initialized", "environment", environment)
	return &sentryReporter{capture: captureWithTags}, func() { sentry.Flush(2 * time.Second) }
}
