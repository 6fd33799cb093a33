// Package events reads and writes columnar event files: one JSON object of
// branches per line, optionally gzip-compressed.
package events

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/jetveto/internal/jetveto"
)

const maxLineBytes = 64 << 20

// Jet branches read for every event.
const (
	BranchPt       = "Jet_pt"
	BranchJetID    = "Jet_jetId"
	BranchChEmEF   = "Jet_chEmEF"
	BranchNeEmEF   = "Jet_neEmEF"
	BranchEta      = "Jet_eta"
	BranchPhi      = "Jet_phi"
	BranchMuonIdx1 = "Jet_muonIdx1"
	BranchMuonIdx2 = "Jet_muonIdx2"
)

// MissingFieldError reports an event that lacks a branch needed to classify
// it.
type MissingFieldError struct {
	Entry  int64
	Branch string
	Reason string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("events: entry %d: branch %s: %s", e.Entry, e.Branch, e.Reason)
}

// Record is one event line.
type Record struct {
	Entry int64
	raw   []byte
}

// NewRecord wraps a raw JSON event.
func NewRecord(entry int64, raw []byte) Record {
	return Record{Entry: entry, raw: raw}
}

// Raw returns the event JSON as read.
func (r Record) Raw() []byte { return r.raw }

// Get returns a branch value.
func (r Record) Get(branch string) gjson.Result {
	return gjson.GetBytes(r.raw, branch)
}

// NJet returns the jet count branch.
func (r Record) NJet() (int, error) {
	v := r.Get(jetveto.JetCountBranch)
	if !v.Exists() || v.Type != gjson.Number {
		return 0, &MissingFieldError{Entry: r.Entry, Branch: jetveto.JetCountBranch, Reason: "missing"}
	}
	f := v.Float()
	switch {
	case f != math.Trunc(f):
		return 0, &MissingFieldError{Entry: r.Entry, Branch: jetveto.JetCountBranch, Reason: "not an integer"}
	case f < 0:
		return 0, &MissingFieldError{Entry: r.Entry, Branch: jetveto.JetCountBranch, Reason: "negative"}
	case f > math.MaxInt32:
		return 0, &MissingFieldError{Entry: r.Entry, Branch: jetveto.JetCountBranch, Reason: "out of range"}
	}
	return int(f), nil
}

// Event decodes the record into jets. Every jet branch must be present with
// at least nJet numeric entries.
func (r Record) Event() (jetveto.Event, error) {
	n, err := r.NJet()
	if err != nil {
		return jetveto.Event{}, err
	}

	ev := jetveto.Event{
		Run:   uint32(r.Get("run").Uint()),
		Lumi:  uint32(r.Get("luminosityBlock").Uint()),
		Event: r.Get("event").Uint(),
	}
	if n == 0 {
		ev.Jets = []jetveto.Jet{}
		return ev, nil
	}

	cols := []struct {
		branch string
		set    func(j *jetveto.Jet, v gjson.Result)
	}{
		{BranchPt, func(j *jetveto.Jet, v gjson.Result) { j.Pt = v.Float() }},
		{BranchJetID, func(j *jetveto.Jet, v gjson.Result) { j.JetID = int(v.Int()) }},
		{BranchChEmEF, func(j *jetveto.Jet, v gjson.Result) { j.ChEmEF = v.Float() }},
		{BranchNeEmEF, func(j *jetveto.Jet, v gjson.Result) { j.NeEmEF = v.Float() }},
		{BranchEta, func(j *jetveto.Jet, v gjson.Result) { j.Eta = v.Float() }},
		{BranchPhi, func(j *jetveto.Jet, v gjson.Result) { j.Phi = v.Float() }},
		{BranchMuonIdx1, func(j *jetveto.Jet, v gjson.Result) { j.MuonIdx1 = int(v.Int()) }},
		{BranchMuonIdx2, func(j *jetveto.Jet, v gjson.Result) { j.MuonIdx2 = int(v.Int()) }},
	}

	// Lengths are checked for every column before jets are allocated, so a
	// corrupt nJet cannot size the slice.
	arrays := make([][]gjson.Result, len(cols))
	for c, col := range cols {
		v := r.Get(col.branch)
		if !v.IsArray() {
			return jetveto.Event{}, &MissingFieldError{Entry: r.Entry, Branch: col.branch, Reason: "missing"}
		}
		vals := v.Array()
		if len(vals) < n {
			return jetveto.Event{}, &MissingFieldError{
				Entry:  r.Entry,
				Branch: col.branch,
				Reason: fmt.Sprintf("has %d values for nJet=%d", len(vals), n),
			}
		}
		arrays[c] = vals
	}

	ev.Jets = make([]jetveto.Jet, n)
	for c, col := range cols {
		vals := arrays[c]
		for i := 0; i < n; i++ {
			if vals[i].Type != gjson.Number {
				return jetveto.Event{}, &MissingFieldError{
					Entry:  r.Entry,
					Branch: col.branch,
					Reason: fmt.Sprintf("jet %d is not a number", i),
				}
			}
			col.set(&ev.Jets[i], vals[i])
		}
	}
	return ev, nil
}

// Reader iterates over the records of an event file.
type Reader struct {
	sc      *bufio.Scanner
	closers []io.Closer
	entry   int64
}

// NewReader reads uncompressed records from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{sc: sc}
}

// Open opens an event file. Names ending in .gz are decompressed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "events: open %s", path)
	}
	if !strings.HasSuffix(path, ".gz") {
		r := NewReader(f)
		r.closers = []io.Closer{f}
		return r, nil
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "events: gzip %s", path)
	}
	r := NewReader(zr)
	r.closers = []io.Closer{zr, f}
	return r, nil
}

// Next returns the next record, or io.EOF after the last one. Blank lines
// are skipped and do not consume an entry number.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		entry := r.entry
		r.entry++
		if !gjson.ValidBytes(line) {
			return Record{}, eris.Errorf("events: entry %d: invalid json", entry)
		}
		raw := make([]byte, len(line))
		copy(raw, line)
		return Record{Entry: entry, raw: raw}, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, eris.Wrap(err, "events: scan")
	}
	return Record{}, io.EOF
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}
