package harvester

import (
	"context"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

// Severity of an alert, the values match Sentry levels.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityFatal   Severity = "fatal"
)

// Alerter reports messages to humans without stopping the process. Report
// returns an opaque receipt, empty if nothing was sent.
type Alerter interface {
	Report(ctx context.Context, message string, extras map[string]any, severity Severity) string
}

// SentryAlerter sends messages to Sentry.
type SentryAlerter struct {
	hub *sentry.Hub
}

// NewSentryAlerter uses the given hub, or the current hub if nil.
func NewSentryAlerter(hub *sentry.Hub) *SentryAlerter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryAlerter{hub: hub}
}

// Report captures a message with the extras attached to a fresh scope.
func (a *SentryAlerter) Report(ctx context.Context, message string, extras map[string]any, severity Severity) string {
	hub := a.hub
	if h := sentry.GetHubFromContext(ctx); h != nil {
		hub = h
	}
	var id *sentry.EventID
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		scope.SetLevel(sentry.Level(severity))
		id = hub.CaptureMessage(message)
	})
	if id == nil {
		return ""
	}
	return string(*id)
}

// LogAlerter writes alerts to the log only, used when Sentry is not
// configured.
type LogAlerter struct {
	log *zap.SugaredLogger
}

// NewLogAlerter reports to the given logger.
func NewLogAlerter(log *zap.SugaredLogger) *LogAlerter {
	return &LogAlerter{log: log}
}

// Report logs the message with the extras as fields. The receipt is always empty.
func (a *LogAlerter) Report(_ context.Context, message string, extras map[string]any, severity Severity) string {
	kv := make([]any, 0, 2*len(extras))
	for k, v := range extras {
		kv = append(kv, k, v)
	}
	switch severity {
	case SeverityInfo:
		a.log.Infow(message, kv...)
	case SeverityWarning:
		a.log.Warnw(message, kv...)
	default:
		a.log.Errorw(message, kv...)
	}
	return ""
}

type nopAlerter struct{}

func (nopAlerter) Report(context.Context, string, map[string]any, Severity) string { return "" }
