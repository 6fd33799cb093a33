package events

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"github.com/tidwall/sjson"

	"github.com/sells-group/jetveto/internal/jetveto"
)

// Writer writes records with one declared output branch appended.
type Writer struct {
	bw      *bufio.Writer
	closers []io.Closer
	spec    *jetveto.BranchSpec
	written int64
}

// NewWriter writes uncompressed records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{bw: bufio.NewWriter(w)}
}

// Create creates an event file, making parent directories as needed. Names
// ending in .gz are compressed.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "events: mkdir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, eris.Wrapf(err, "events: create %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		w := NewWriter(f)
		w.closers = []io.Closer{f}
		return w, nil
	}
	zw := gzip.NewWriter(f)
	w := NewWriter(zw)
	w.closers = []io.Closer{zw, f}
	return w, nil
}

// Declare registers the output branch. It may be called once.
func (w *Writer) Declare(spec jetveto.BranchSpec) error {
	if w.spec != nil {
		return eris.Errorf("events: branch %s already declared", w.spec.Name)
	}
	if spec.Name == "" {
		return eris.New("events: branch name is required")
	}
	w.spec = &spec
	return nil
}

// Spec returns the declared branch, if any.
func (w *Writer) Spec() (jetveto.BranchSpec, bool) {
	if w.spec == nil {
		return jetveto.BranchSpec{}, false
	}
	return *w.spec, true
}

// Written returns the number of records written.
func (w *Writer) Written() int64 { return w.written }

// Fill writes rec with the declared branch set to value. Jagged branches take
// []int with one entry per jet; scalar branches take int.
func (w *Writer) Fill(rec Record, value any) error {
	if w.spec == nil {
		return eris.New("events: fill before declare")
	}

	switch v := value.(type) {
	case []int:
		if !w.spec.Jagged() {
			return eris.Errorf("events: branch %s is scalar, got []int", w.spec.Name)
		}
		n, err := rec.NJet()
		if err != nil {
			return err
		}
		if len(v) != n {
			return eris.Errorf("events: entry %d: branch %s has %d values for %s=%d",
				rec.Entry, w.spec.Name, len(v), w.spec.LenVar, n)
		}
	case int:
		if w.spec.Jagged() {
			return eris.Errorf("events: branch %s is jagged, got int", w.spec.Name)
		}
	default:
		return eris.Errorf("events: unsupported branch value %T", value)
	}

	out, err := sjson.SetBytes(rec.raw, w.spec.Name, value)
	if err != nil {
		return eris.Wrapf(err, "events: entry %d: set %s", rec.Entry, w.spec.Name)
	}
	if _, err := w.bw.Write(out); err != nil {
		return eris.Wrap(err, "events: write")
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return eris.Wrap(err, "events: write")
	}
	w.written++
	return nil
}

// Close flushes buffered records and closes the underlying file.
func (w *Writer) Close() error {
	first := w.bw.Flush()
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.closers = nil
	if first != nil {
		return eris.Wrap(first, "events: close")
	}
	return nil
}
