package harvester

import (
	"bufio"
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"iter"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// DefaultCheckpointInterval is the number of records between progress log
// lines.
const DefaultCheckpointInterval = 1000

// Writer persists harvested records and set lists.
type Writer struct {
	interval int
	log      *zap.SugaredLogger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCheckpointInterval sets how often progress is logged, values below one
// use the default.
func WithCheckpointInterval(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.interval = n
		}
	}
}

// WithWriterLogger sets the logger for progress lines.
func WithWriterLogger(log *zap.SugaredLogger) WriterOption {
	return func(w *Writer) { w.log = log }
}

// NewWriter returns a writer that logs progress every DefaultCheckpointInterval records.
func NewWriter(opts ...WriterOption) *Writer {
	w := &Writer{interval: DefaultCheckpointInterval, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteRecords writes all records into a records element and returns the
// number of records written. If the sequence fails, the records element is
// still closed and the sequence error returned, so the output stays well
// formed.
func (w *Writer) WriteRecords(records iter.Seq2[Record, error], sink io.Writer) (int, error) {
	bw := bufio.NewWriter(sink)
	if _, err := io.WriteString(bw, xml.Header+"<records>\n"); err != nil {
		return 0, errors.Wrap(err, "write records start")
	}
	var count int
	var seqErr error
	for rec, err := range records {
		if err != nil {
			seqErr = err
			break
		}
		if _, err := io.WriteString(bw, "  "+rec.Raw+"\n"); err != nil {
			return count, errors.Wrapf(err, "write record %s", rec.Identifier())
		}
		count++
		if count%w.interval == 0 {
			w.log.Infof("Status update: %d records written to output file so far!", count)
		}
	}
	if _, err := io.WriteString(bw, "</records>"); err != nil {
		return count, errors.Wrap(err, "write records end")
	}
	if err := bw.Flush(); err != nil {
		return count, errors.Wrap(err, "flush records")
	}
	return count, seqErr
}

// WriteSetList writes sets as an indented JSON array.
func (w *Writer) WriteSetList(sets []Set, sink io.Writer) error {
	if sets == nil {
		sets = []Set{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sets); err != nil {
		return errors.Wrap(err, "encode sets")
	}
	_, err := sink.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return errors.Wrap(err, "write sets")
}
