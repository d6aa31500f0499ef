package harvester

import (
	"context"
	"iter"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// RepositoryInfo summarizes a repository.
type RepositoryInfo struct {
	Identify Identify         `json:"id"`
	Sets     []Set            `json:"sets"`
	Formats  []MetadataFormat `json:"formats"`
	Errors   []string         `json:"errors,omitempty"`
	Elapsed  float64          `json:"elapsed"`
}

// Informer is implemented by clients that support the informational verbs.
type Informer interface {
	Identify(ctx context.Context, endpoint string) (Identify, error)
	ListMetadataFormats(ctx context.Context, endpoint string) ([]MetadataFormat, error)
	ListSets(ctx context.Context, endpoint string) iter.Seq2[Set, error]
}

// AboutEndpoint runs Identify, ListSets and ListMetadataFormats in parallel
// and returns after at most timeout. Failing verbs are listed in Errors, an
// error is only returned if all verbs failed.
func AboutEndpoint(ctx context.Context, client Informer, endpoint string, timeout time.Duration) (*RepositoryInfo, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		info                       RepositoryInfo
		idErr, setsErr, formatsErr error
		g                          errgroup.Group
	)
	g.Go(func() error {
		info.Identify, idErr = client.Identify(ctx, endpoint)
		return nil
	})
	g.Go(func() error {
		info.Sets, setsErr = Collect(client.ListSets(ctx, endpoint))
		if errors.Is(setsErr, ErrNoRecordsMatch) || isNoSetHierarchy(setsErr) {
			setsErr = nil
		}
		return nil
	})
	g.Go(func() error {
		info.Formats, formatsErr = client.ListMetadataFormats(ctx, endpoint)
		return nil
	})
	g.Wait()

	var failed int
	for _, err := range []error{idErr, setsErr, formatsErr} {
		if err != nil {
			failed++
			info.Errors = append(info.Errors, err.Error())
		}
	}
	info.Elapsed = time.Since(start).Seconds()
	if failed == 3 {
		return &info, errors.Wrapf(idErr, "no information about %s", endpoint)
	}
	return &info, nil
}

// isNoSetHierarchy reports the OAI error for repositories without sets.
func isNoSetHierarchy(err error) bool {
	var oerr OAIError
	return errors.As(err, &oerr) && oerr.Code == "noSetHierarchy"
}
