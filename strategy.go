package harvester

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Method selects how records are retrieved.
type Method int

const (
	// MethodGet lists identifiers first and fetches every record with
	// GetRecord. Single failures are tolerated up to the error budget.
	MethodGet Method = iota + 1
	// MethodList uses ListRecords. Faster, but any failure ends the harvest.
	MethodList
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "get"
	case MethodList:
		return "list"
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

func (m Method) valid() bool {
	return m == MethodGet || m == MethodList
}

// ParseMethod accepts "get" or "list", case insensitive.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "get":
		return MethodGet, nil
	case "list":
		return MethodList, nil
	}
	return 0, errors.Wrapf(ErrUnknownMethod, `method must be either "get" or "list", method provided was %q`, s)
}

// Source is the protocol client used by a session. Empty lists end with an
// error matching ErrNoRecordsMatch, missing records with ErrIDNotFound.
type Source interface {
	ListIdentifiers(ctx context.Context, q Query) iter.Seq2[Header, error]
	ListRecords(ctx context.Context, q Query) iter.Seq2[Record, error]
	GetRecord(ctx context.Context, endpoint, identifier, prefix string) (Record, error)
	ListSets(ctx context.Context, endpoint string) iter.Seq2[Set, error]
}

// strategy produces a lazy, single pass sequence of records. A sequence stops
// after yielding an error.
type strategy interface {
	records(ctx context.Context) iter.Seq2[Record, error]
}

// listStrategy delegates to ListRecords. Errors are passed through as is.
type listStrategy struct {
	source Source
	query  Query
	filter RecordFilter
	log    *zap.SugaredLogger
}

func (s listStrategy) records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for rec, err := range s.source.ListRecords(ctx, s.query) {
			if err != nil {
				yield(Record{}, err)
				return
			}
			if s.filter.ShouldExclude(rec.Header) {
				s.log.Debugw("excluding deleted record", "identifier", rec.Identifier())
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// getStrategy enumerates identifiers, then fetches records one by one.
type getStrategy struct {
	source Source
	query  Query
	filter RecordFilter
	ledger *ErrorLedger
	log    *zap.SugaredLogger
}

// identifiers collects the complete identifier list before any record is
// fetched, deleted headers are dropped if requested.
func (s getStrategy) identifiers(ctx context.Context) ([]string, error) {
	var ids []string
	for h, err := range s.source.ListIdentifiers(ctx, s.query) {
		if err != nil {
			return nil, err
		}
		if s.filter.ShouldExclude(h) {
			continue
		}
		ids = append(ids, h.Identifier)
	}
	return ids, nil
}

func (s getStrategy) records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		ids, err := s.identifiers(ctx)
		if err != nil {
			yield(Record{}, err)
			return
		}
		if s.filter.excludeDeleted {
			s.log.Infof("Number of records to harvest (not including deleted records): %d", len(ids))
		} else {
			s.log.Infof("Number of records to harvest (including deleted records): %d", len(ids))
		}
		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if s.filter.ShouldSkip(id) {
				s.log.Infof("Skipping retrieval of record with identifier %s because it is in the skip list", id)
				continue
			}
			s.log.Debugf("Retrieving record %d of %d with identifier=%s", i+1, len(ids), id)
			rec, err := s.source.GetRecord(ctx, s.query.Endpoint, id, s.query.MetadataFormat)
			switch {
			case errors.Is(err, ErrIDNotFound):
				s.log.Warnf("Identifier %s retrieved in identifiers list returned 'id does not exist' during getRecord request", id)
				continue
			case err != nil:
				if abort := s.ledger.RecordFailure(ctx, id, failureContext(err)); abort != nil {
					yield(Record{}, abort)
					return
				}
				continue
			}
			s.log.Debugf("Record retrieved:\n  Deleted:%t\n  Raw:%s\n", rec.Deleted(), rec.Raw)
			if s.filter.ShouldExclude(rec.Header) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
		s.ledger.Finalize(ctx)
	}
}
