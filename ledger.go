package harvester

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// DefaultMaxAllowedErrors is the number of failed record fetches after which a
// harvest is aborted.
const DefaultMaxAllowedErrors = 10

// FailureEntry records a single failed record fetch.
type FailureEntry struct {
	Identifier string `json:"identifier"`
	// Context is the URL of the failed request, or the error message if no
	// request was made.
	Context string `json:"context"`
}

// AbortError is returned when a harvest reached the maximum allowed errors.
// It carries all failures collected so far.
type AbortError struct {
	Max      int
	Failures []FailureEntry
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%v: %d of %d", ErrMaxAllowedErrors, len(e.Failures), e.Max)
}

func (e *AbortError) Is(target error) bool {
	return target == ErrMaxAllowedErrors
}

// ErrorLedger collects per record failures during a single retrieval pass and
// enforces the error budget. A max of zero or less disables the budget.
type ErrorLedger struct {
	source   string
	max      int
	failures []FailureEntry
	aborted  bool
	alerter  Alerter
	extras   map[string]any
	log      *zap.SugaredLogger
}

func newErrorLedger(source string, max int, alerter Alerter, extras map[string]any, log *zap.SugaredLogger) *ErrorLedger {
	return &ErrorLedger{source: source, max: max, alerter: alerter, extras: extras, log: log}
}

// failureContext prefers the URL of a failed request over the error text.
func failureContext(err error) string {
	var rerr *RequestError
	if errors.As(err, &rerr) {
		return rerr.URL
	}
	return err.Error()
}

// RecordFailure appends a failure. Once the number of failures reaches the
// maximum an abort is reported and an *AbortError returned. The caller must
// not fetch any further identifiers after that.
func (l *ErrorLedger) RecordFailure(ctx context.Context, id, detail string) error {
	if l.aborted {
		return &AbortError{Max: l.max, Failures: l.Failures()}
	}
	l.failures = append(l.failures, FailureEntry{Identifier: id, Context: detail})
	l.log.Warnw("failed to retrieve record", "identifier", id, "context", detail, "failures", len(l.failures))
	if l.max <= 0 || len(l.failures) < l.max {
		return nil
	}
	l.aborted = true
	msg := fmt.Sprintf("OAI-PMH harvest from %s aborted: maximum allowed errors (%d) reached", l.source, l.max)
	l.alerter.Report(ctx, msg, l.report(), SeverityFatal)
	l.log.Errorw(msg, "failures", l.failures)
	return &AbortError{Max: l.max, Failures: l.Failures()}
}

// Finalize reports a summary if failures happened but the harvest was not
// aborted. Nothing is sent for a clean run.
func (l *ErrorLedger) Finalize(ctx context.Context) {
	if l.aborted || len(l.failures) == 0 {
		return
	}
	msg := fmt.Sprintf("OAI-PMH harvest from %s completed with %d record(s) that could not be retrieved",
		l.source, len(l.failures))
	l.alerter.Report(ctx, msg, l.report(), SeverityWarning)
	l.log.Warnw(msg, "failures", l.failures)
}

// Failures returns a copy of the recorded failures, in order.
func (l *ErrorLedger) Failures() []FailureEntry {
	return append([]FailureEntry(nil), l.failures...)
}

func (l *ErrorLedger) report() map[string]any {
	m := map[string]any{
		"source":         l.source,
		"failure_count":  len(l.failures),
		"failed_records": l.Failures(),
	}
	for k, v := range l.extras {
		m[k] = v
	}
	return m
}
