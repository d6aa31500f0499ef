//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>

package harvester

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sethgrid/pester"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Retry settings for the default transport. Status 429 and 5xx responses are
// retried with exponential backoff.
const (
	DefaultMaxRetries  = 10
	DefaultTimeout     = 5 * time.Minute
	DefaultMaxRequests = 16384
)

// HttpRequestDoer lets us use pester, DefaultClient or other HTTP client
// implementations interchangably.
type HttpRequestDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Query describes what to harvest. Empty fields are not sent.
type Query struct {
	Endpoint       string
	MetadataFormat string
	From           string
	Until          string
	Set            string
}

// request returns the OAI request for a list verb.
func (q Query) request(verb string) Request {
	return Request{
		Endpoint: q.Endpoint,
		Verb:     verb,
		From:     q.From,
		Until:    q.Until,
		Set:      q.Set,
		Prefix:   q.MetadataFormat,
	}
}

// Client turns OAI requests into responses and implements the list verbs
// with resumption token handling.
type Client struct {
	// MaxRequests limits the number of HTTP requests per list request, which
	// prevents endless loops due to broken resumptionToken implementations.
	// Zero means no limit.
	MaxRequests int
	// Batch splits list requests with a from date into date windows.
	Batch Batch

	doer    HttpRequestDoer
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	today   func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDoer uses a user supplied http client, e.g. http.DefaultClient.
func WithDoer(doer HttpRequestDoer) ClientOption {
	return func(c *Client) { c.doer = doer }
}

// WithRequestsPerSecond paces requests to the repository. Zero or less
// disables pacing.
func WithRequestsPerSecond(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithBatch sets the date window size for list requests.
func WithBatch(b Batch) ClientOption {
	return func(c *Client) { c.Batch = b }
}

// WithClientLogger sets the logger, requested URLs are logged at debug level.
func WithClientLogger(log *zap.SugaredLogger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client with a resilient HTTP transport.
func NewClient(opts ...ClientOption) *Client {
	hc := pester.New()
	hc.Timeout = DefaultTimeout
	hc.MaxRetries = DefaultMaxRetries
	hc.Backoff = pester.ExponentialBackoff
	hc.RetryOnHTTP429 = true

	c := &Client{
		MaxRequests: DefaultMaxRequests,
		doer:        hc,
		log:         zap.NewNop().Sugar(),
		today:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do takes an OAI request and turns it into exactly one OAI response.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var response Response

	link, err := req.URL()
	if err != nil {
		return response, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return response, errors.Wrap(err, "rate limit")
		}
	}
	c.log.Debugw("request", "url", link)

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return response, errors.Wrap(err, "create request")
	}
	hreq.Header.Set("User-Agent", UserAgent)
	resp, err := c.doer.Do(hreq)
	if err != nil {
		return response, &RequestError{URL: link, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return response, &RequestError{URL: link, StatusCode: resp.StatusCode}
	}
	return decodeResponse(resp.Body)
}

// pages follows resumption tokens and yields every response of a single list
// request. The sequence stops after the first error.
func (c *Client) pages(ctx context.Context, req Request) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		for i := 1; ; i++ {
			if c.MaxRequests > 0 && i > c.MaxRequests {
				yield(Response{}, errors.Wrapf(ErrTooManyRequests, "more than %d requests for %s", c.MaxRequests, req.Verb))
				return
			}
			resp, err := c.Do(ctx, req)
			if err != nil {
				yield(resp, err)
				return
			}
			if !yield(resp, nil) {
				return
			}
			token := resp.resumptionToken(req.Verb)
			if token == "" {
				return
			}
			req.ResumptionToken = token
		}
	}
}

// requests returns the requests needed to fulfill a list query, one per date
// window if batching is enabled.
func (c *Client) requests(q Query, verb string) ([]Request, error) {
	req := q.request(verb)
	if c.Batch == BatchNone {
		return []Request{req}, nil
	}
	w, err := parseWindow(q.From, q.Until, c.today())
	if err != nil {
		return nil, err
	}
	windows, err := w.Split(c.Batch)
	if err != nil {
		return nil, err
	}
	var reqs []Request
	for _, w := range windows {
		r := req
		r.From = w.From.Format("2006-01-02")
		r.Until = w.Until.Format("2006-01-02")
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// list yields all responses for a list verb. A window without matches is
// skipped, only if no window matched at all the sequence ends with
// ErrNoRecordsMatch.
func (c *Client) list(ctx context.Context, q Query, verb string) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		reqs, err := c.requests(q, verb)
		if err != nil {
			yield(Response{}, err)
			return
		}
		var matched bool
		var noMatch error
		for _, req := range reqs {
			for resp, err := range c.pages(ctx, req) {
				if errors.Is(err, ErrNoRecordsMatch) {
					noMatch = err
					break
				}
				if err != nil {
					yield(resp, err)
					return
				}
				matched = true
				if !yield(resp, nil) {
					return
				}
			}
		}
		if !matched && noMatch != nil {
			yield(Response{}, noMatch)
		}
	}
}

// ListIdentifiers yields the headers matching the query.
func (c *Client) ListIdentifiers(ctx context.Context, q Query) iter.Seq2[Header, error] {
	return func(yield func(Header, error) bool) {
		for resp, err := range c.list(ctx, q, "ListIdentifiers") {
			if err != nil {
				yield(Header{}, err)
				return
			}
			for _, h := range resp.ListIdentifiers.Headers {
				if !yield(h, nil) {
					return
				}
			}
		}
	}
}

// ListRecords yields the records matching the query.
func (c *Client) ListRecords(ctx context.Context, q Query) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for resp, err := range c.list(ctx, q, "ListRecords") {
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, r := range resp.ListRecords.Records {
				if !yield(r.record(), nil) {
					return
				}
			}
		}
	}
}

// GetRecord fetches a single record. A missing identifier results in an
// error matching ErrIDNotFound.
func (c *Client) GetRecord(ctx context.Context, endpoint, identifier, prefix string) (Record, error) {
	if prefix == "" {
		prefix = DefaultFormat
	}
	resp, err := c.Do(ctx, Request{
		Endpoint:   endpoint,
		Verb:       "GetRecord",
		Identifier: identifier,
		Prefix:     prefix,
	})
	if err != nil {
		return Record{}, err
	}
	return resp.GetRecord.Record.record(), nil
}

// ListSets yields all sets of a repository.
func (c *Client) ListSets(ctx context.Context, endpoint string) iter.Seq2[Set, error] {
	return func(yield func(Set, error) bool) {
		for resp, err := range c.pages(ctx, Request{Endpoint: endpoint, Verb: "ListSets"}) {
			if err != nil {
				yield(Set{}, err)
				return
			}
			for _, s := range resp.ListSets.Sets {
				if !yield(s, nil) {
					return
				}
			}
		}
	}
}

// Identify returns the repository description.
func (c *Client) Identify(ctx context.Context, endpoint string) (Identify, error) {
	resp, err := c.Do(ctx, Request{Endpoint: endpoint, Verb: "Identify"})
	return resp.Identify, err
}

// ListMetadataFormats returns the formats the repository can disseminate.
func (c *Client) ListMetadataFormats(ctx context.Context, endpoint string) ([]MetadataFormat, error) {
	resp, err := c.Do(ctx, Request{Endpoint: endpoint, Verb: "ListMetadataFormats"})
	return resp.ListMetadataFormats.Formats, err
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var result []T
	for v, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, v)
	}
	return result, nil
}
