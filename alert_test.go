package harvester

import (
	"context"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// nullTransport drops events, they are inspected in BeforeSend.
type nullTransport struct{}

func (nullTransport) Configure(sentry.ClientOptions)        {}
func (nullTransport) SendEvent(*sentry.Event)               {}
func (nullTransport) Flush(time.Duration) bool              { return true }
func (nullTransport) FlushWithContext(context.Context) bool { return true }
func (nullTransport) Close()                                {}

func TestSentryAlerter(t *testing.T) {
	var events []*sentry.Event
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:       "https://1234567890@00000.ingest.sentry.io/123456",
		Transport: nullTransport{},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			events = append(events, event)
			return event
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	a := NewSentryAlerter(hub)
	receipt := a.Report(context.Background(), "harvest aborted",
		map[string]any{"failure_count": 2}, SeverityFatal)
	assert.NotEmpty(t, receipt)
	require.Len(t, events, 1)
	assert.Equal(t, "harvest aborted", events[0].Message)
	assert.Equal(t, sentry.LevelFatal, events[0].Level)
	assert.Equal(t, 2, events[0].Extra["failure_count"])

	// Extras do not leak into later events.
	a.Report(context.Background(), "second", nil, SeverityWarning)
	require.Len(t, events, 2)
	assert.NotContains(t, events[1].Extra, "failure_count")
	assert.Equal(t, sentry.LevelWarning, events[1].Level)
}

func TestLogAlerter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := NewLogAlerter(zap.New(core).Sugar())

	assert.Empty(t, a.Report(context.Background(), "summary", map[string]any{"failure_count": 1}, SeverityWarning))
	a.Report(context.Background(), "aborted", nil, SeverityFatal)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, int64(1), entries[0].ContextMap()["failure_count"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
