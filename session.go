package harvester

import (
	"context"
	"iter"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session harvests records for a single query. Filters and the error ledger
// are created per Retrieve call and never shared.
type Session struct {
	source           Source
	query            Query
	alerter          Alerter
	log              *zap.SugaredLogger
	maxAllowedErrors int
	id               string
}

// Option configures a Session.
type Option func(*Session)

// WithAlerter sets where failure summaries and aborts are reported.
func WithAlerter(a Alerter) Option {
	return func(s *Session) { s.alerter = a }
}

// WithLogger sets the session logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) { s.log = log }
}

// WithMaxAllowedErrors sets the error budget of the get method. Zero or less
// means failures never abort a harvest.
func WithMaxAllowedErrors(n int) Option {
	return func(s *Session) { s.maxAllowedErrors = n }
}

// NewSession creates a session for the given query.
func NewSession(source Source, q Query, opts ...Option) *Session {
	s := &Session{
		source:           source,
		query:            q,
		alerter:          nopAlerter{},
		log:              zap.NewNop().Sugar(),
		maxAllowedErrors: DefaultMaxAllowedErrors,
		id:               uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("harvest_id", s.id)
	return s
}

// ID identifies this harvest in logs and alerts.
func (s *Session) ID() string { return s.id }

// Query returns the query of this session.
func (s *Session) Query() Query { return s.query }

// Retrieve returns the records of the session query. The returned sequence is
// lazy and can only be consumed once; it ends with an error matching
// ErrNoRecordsMatch if nothing matched the query, or ErrMaxAllowedErrors if
// the error budget was exhausted. Unknown methods fail immediately.
func (s *Session) Retrieve(ctx context.Context, method Method, excludeDeleted bool, skip SkipList) (iter.Seq2[Record, error], error) {
	if !method.valid() {
		return nil, errors.Wrapf(ErrUnknownMethod, `method must be either "get" or "list", method provided was %q`, method.String())
	}
	log := s.log.With("method", method.String())
	var st strategy
	switch method {
	case MethodList:
		if len(skip) > 0 {
			log.Warnf("A record skip list was provided but is ignored by the %q method, %d identifier(s) will not be skipped", method.String(), len(skip))
		}
		st = listStrategy{
			source: s.source,
			query:  s.query,
			filter: newRecordFilter(nil, excludeDeleted),
			log:    log,
		}
	case MethodGet:
		if s.maxAllowedErrors <= 0 {
			log.Warnf("Maximum allowed errors is %d, failed records will never abort the harvest", s.maxAllowedErrors)
		}
		ledger := newErrorLedger(s.query.Endpoint, s.maxAllowedErrors, s.alerter,
			map[string]any{"harvest_id": s.id}, log)
		st = getStrategy{
			source: s.source,
			query:  s.query,
			filter: newRecordFilter(skip, excludeDeleted),
			ledger: ledger,
			log:    log,
		}
	}
	return st.records(ctx), nil
}

// Sets returns all sets of the session endpoint.
func (s *Session) Sets(ctx context.Context) ([]Set, error) {
	return Collect(s.source.ListSets(ctx, s.query.Endpoint))
}
