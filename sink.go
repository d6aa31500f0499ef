package harvester

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/go-homedir"
)

// ErrBadLocation is returned for output locations that cannot be opened.
var ErrBadLocation = errors.New("bad output location")

// OpenSink opens an output location for writing. Locations are local paths,
// where a leading ~ is expanded, or S3 URIs like s3://bucket/key. Content is
// spooled to a temporary file and only appears at the location on Close. A
// .gz suffix enables gzip compression.
func OpenSink(ctx context.Context, location string) (io.WriteCloser, error) {
	if isS3Location(location) {
		bucket, key, err := parseS3Location(location)
		if err != nil {
			return nil, err
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "load aws config")
		}
		return newS3Sink(ctx, s3.NewFromConfig(cfg), bucket, key)
	}
	return newFileSink(location)
}

func isS3Location(location string) bool {
	return strings.HasPrefix(strings.ToLower(location), "s3://")
}

// parseS3Location splits s3://bucket/some/key into bucket and key.
func parseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", errors.Wrapf(ErrBadLocation, "%s: %v", location, err)
	}
	if !strings.EqualFold(u.Scheme, "s3") || u.Host == "" {
		return "", "", errors.Wrapf(ErrBadLocation, "%s: missing bucket", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", errors.Wrapf(ErrBadLocation, "%s: missing key", location)
	}
	return u.Host, key, nil
}

// spool buffers output in a temporary file and hands it to commit on Close.
type spool struct {
	tmp    *os.File
	bw     *bufio.Writer
	gz     *gzip.Writer
	w      io.Writer
	commit func(*os.File) error
}

func newSpool(dir, pattern string, compress bool, commit func(*os.File) error) (*spool, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, errors.Wrap(err, "create temporary file")
	}
	s := &spool{tmp: tmp, bw: bufio.NewWriter(tmp), commit: commit}
	s.w = s.bw
	if compress {
		s.gz = gzip.NewWriter(s.bw)
		s.w = s.gz
	}
	return s, nil
}

func (s *spool) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *spool) Close() error {
	defer func() {
		s.tmp.Close()
		os.Remove(s.tmp.Name())
	}()
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return errors.Wrap(err, "close gzip writer")
		}
	}
	if err := s.bw.Flush(); err != nil {
		return errors.Wrap(err, "flush temporary file")
	}
	return s.commit(s.tmp)
}

// mkdirAll ensures a path exists and is a directory.
func mkdirAll(dir string) error {
	fi, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return errors.Newf("%s is not a directory", dir)
	}
	return nil
}

// newFileSink writes to a temporary file next to the target and renames it
// into place on Close.
func newFileSink(location string) (io.WriteCloser, error) {
	filename, err := homedir.Expand(location)
	if err != nil {
		return nil, errors.Wrapf(ErrBadLocation, "%s: %v", location, err)
	}
	dir := filepath.Dir(filename)
	if err := mkdirAll(dir); err != nil {
		return nil, err
	}
	commit := func(f *os.File) error {
		if err := f.Chmod(0644); err != nil {
			return errors.Wrap(err, "chmod output file")
		}
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "close output file")
		}
		return errors.Wrap(os.Rename(f.Name(), filename), "move output file into place")
	}
	s, err := newSpool(dir, "."+filepath.Base(filename)+"-", strings.HasSuffix(filename, ".gz"), commit)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// objectPutter is the part of the S3 API the sink needs.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Sink uploads the spooled content as a single object on Close.
func newS3Sink(ctx context.Context, client objectPutter, bucket, key string) (io.WriteCloser, error) {
	commit := func(f *os.File) error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "rewind temporary file")
		}
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		return errors.Wrapf(err, "upload s3://%s/%s", bucket, key)
	}
	s, err := newSpool("", "oai-s3-", strings.HasSuffix(key, ".gz"), commit)
	if err != nil {
		return nil, err
	}
	return s, nil
}
