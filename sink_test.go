package harvester

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "records.xml")
	sink, err := OpenSink(context.Background(), filename)
	require.NoError(t, err)

	_, err = io.WriteString(sink, "<records>\n</records>")
	require.NoError(t, err)
	_, err = os.Stat(filename)
	assert.True(t, os.IsNotExist(err), "output must not appear before close")

	require.NoError(t, sink.Close())
	b, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "<records>\n</records>", string(b))

	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is removed")
}

func TestFileSinkGzip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "records.xml.gz")
	sink, err := OpenSink(context.Background(), filename)
	require.NoError(t, err)
	_, err = io.WriteString(sink, "<records>\n</records>")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "<records>\n</records>", string(b))
}

func TestFileSinkNotADirectory(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0644))
	_, err := OpenSink(context.Background(), filepath.Join(parent, "records.xml"))
	assert.Error(t, err)
}

// fakePutter keeps uploaded objects in memory.
type fakePutter struct {
	objects map[string][]byte
	err     error
}

func (p *fakePutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if p.err != nil {
		return nil, p.err
	}
	b, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	p.objects[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	putter := &fakePutter{objects: make(map[string][]byte)}
	sink, err := newS3Sink(context.Background(), putter, "bucket", "harvests/records.xml")
	require.NoError(t, err)
	_, err = io.WriteString(sink, "<records>\n</records>")
	require.NoError(t, err)
	assert.Empty(t, putter.objects, "nothing is uploaded before close")
	require.NoError(t, sink.Close())
	assert.Equal(t, "<records>\n</records>", string(putter.objects["bucket/harvests/records.xml"]))
}

func TestS3SinkGzip(t *testing.T) {
	putter := &fakePutter{objects: make(map[string][]byte)}
	sink, err := newS3Sink(context.Background(), putter, "bucket", "records.xml.gz")
	require.NoError(t, err)
	_, err = io.WriteString(sink, "[]")
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	zr, err := gzip.NewReader(bytes.NewReader(putter.objects["bucket/records.xml.gz"]))
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(b))
}

func TestS3SinkUploadError(t *testing.T) {
	putter := &fakePutter{err: errors.New("access denied")}
	sink, err := newS3Sink(context.Background(), putter, "bucket", "key")
	require.NoError(t, err)
	err = sink.Close()
	assert.ErrorContains(t, err, "upload s3://bucket/key")
	assert.ErrorContains(t, err, "access denied")
}

func TestParseS3Location(t *testing.T) {
	var cases = []struct {
		location string
		bucket   string
		key      string
		err      error
	}{
		{"s3://bucket/key.xml", "bucket", "key.xml", nil},
		{"S3://bucket/a/b/c.xml.gz", "bucket", "a/b/c.xml.gz", nil},
		{"s3://bucket", "", "", ErrBadLocation},
		{"s3://bucket/dir/", "", "", ErrBadLocation},
		{"s3:///key.xml", "", "", ErrBadLocation},
	}
	for _, c := range cases {
		bucket, key, err := parseS3Location(c.location)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, c.location)
			continue
		}
		require.NoError(t, err, c.location)
		assert.Equal(t, c.bucket, bucket, c.location)
		assert.Equal(t, c.key, key, c.location)
	}
	assert.True(t, isS3Location("S3://bucket/key"))
	assert.False(t, isS3Location("/tmp/s3://key"))
}
