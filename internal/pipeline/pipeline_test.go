package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/sells-group/jetveto/internal/events"
	"github.com/sells-group/jetveto/internal/jetveto"
	"github.com/sells-group/jetveto/internal/model"
	"github.com/sells-group/jetveto/internal/store"
)

// etaEvaluator vetoes every jet with eta > 2.
type etaEvaluator struct{}

func (etaEvaluator) Evaluate(_ string, eta, _ float64) (float64, error) {
	if eta > 2 {
		return 1, nil
	}
	return 0, nil
}

type recordingSink struct {
	mu      sync.Mutex
	events  []model.EventRow
	batches []int
	files   []model.FileStats
}

func (s *recordingSink) RecordEvents(_ context.Context, _ string, rows []model.EventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rows...)
	s.batches = append(s.batches, len(rows))
	return nil
}

func (s *recordingSink) FinishFile(_ context.Context, _ string, stats model.FileStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, stats)
	return nil
}

func eventLine(event int, etas ...float64) string {
	n := len(etas)
	nums := func(v string) string { return "[" + strings.TrimSuffix(strings.Repeat(v+",", n), ",") + "]" }
	etaStrs := make([]string, n)
	for i, e := range etas {
		etaStrs[i] = fmt.Sprintf("%g", e)
	}
	return fmt.Sprintf(`{"run":1,"luminosityBlock":1,"event":%d,"nJet":%d,"Jet_pt":%s,"Jet_jetId":%s,`+
		`"Jet_chEmEF":%s,"Jet_neEmEF":%s,"Jet_eta":[%s],"Jet_phi":%s,"Jet_muonIdx1":%s,"Jet_muonIdx2":%s}`,
		event, n, nums("30"), nums("6"), nums("0.1"), nums("0.1"), strings.Join(etaStrs, ","),
		nums("0.5"), nums("-1"), nums("-1"))
}

func writeEvents(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func readOutput(t *testing.T, path string) []events.Record {
	t.Helper()
	r, err := events.Open(path)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck
	var out []events.Record
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

func newProducer(t *testing.T, mode jetveto.Mode) *jetveto.Producer {
	t.Helper()
	p, err := jetveto.New(jetveto.Config{Era: "2022_Summer22", CorrectionName: "Summer22_23Sep2023_RunCD_V1", Mode: mode}, etaEvaluator{})
	require.NoError(t, err)
	return p
}

func TestNewJob_Validation(t *testing.T) {
	_, err := NewJob(nil, "out")
	assert.Error(t, err)
	_, err = NewJob(newProducer(t, jetveto.ModeEvent), "")
	assert.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	j, err := NewJob(newProducer(t, jetveto.ModeEvent), "out")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "nano_vetoed.jsonl"), j.OutputPath("/data/nano.jsonl"))
	assert.Equal(t, filepath.Join("out", "nano_vetoed.jsonl"), j.OutputPath("/data/nano.jsonl.gz"))

	j, err = NewJob(newProducer(t, jetveto.ModeEvent), "out", WithCompression(true))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "nano_vetoed.jsonl.gz"), j.OutputPath("nano.jsonl"))
}

func TestProcessFile_EventMode(t *testing.T) {
	dir := t.TempDir()
	in := writeEvents(t, dir, "a.jsonl",
		eventLine(1, 0.5, 1.0),
		eventLine(2, 0.5, 3.0, 4.0),
		eventLine(3),
	)
	sink := &recordingSink{}
	j, err := NewJob(newProducer(t, jetveto.ModeEvent), filepath.Join(dir, "out"), WithSink("run-1", sink))
	require.NoError(t, err)

	out := j.OutputPath(in)
	stats, err := j.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.EventsRead)
	assert.Equal(t, int64(2), stats.EventsKept)
	assert.Equal(t, int64(1), stats.EventsDropped)
	assert.Equal(t, int64(1), stats.JetsVetoed)
	assert.Equal(t, int64(4), stats.Lookups, "second event stops at its second jet")

	recs := readOutput(t, out)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Get("event").Int())
	assert.Equal(t, int64(3), recs[1].Get("event").Int())
	assert.Equal(t, int64(0), recs[0].Get(jetveto.EventFlagBranch).Int())
	assert.True(t, recs[0].Get(jetveto.EventFlagBranch).Exists())
	assert.False(t, recs[0].Get(jetveto.JetFlagBranch).Exists())

	require.Len(t, sink.events, 3)
	assert.Equal(t, []int{3}, sink.batches, "one batch per file")
	assert.False(t, sink.events[1].Keep)
	assert.Equal(t, 1, sink.events[1].Flag)
	require.Len(t, sink.files, 1)
	assert.Equal(t, stats, sink.files[0])
}

func TestProcessFile_BatchesSinkRows(t *testing.T) {
	dir := t.TempDir()
	lines := make([]string, eventBatchSize+1)
	for i := range lines {
		lines[i] = eventLine(i, 0.5)
	}
	in := writeEvents(t, dir, "big.jsonl", lines...)

	sink := &recordingSink{}
	j, err := NewJob(newProducer(t, jetveto.ModePerJet), filepath.Join(dir, "out"), WithSink("run-1", sink))
	require.NoError(t, err)

	_, err = j.ProcessFile(context.Background(), in, j.OutputPath(in))
	require.NoError(t, err)

	assert.Equal(t, []int{eventBatchSize, 1}, sink.batches)
	require.Len(t, sink.events, eventBatchSize+1)
	assert.Equal(t, int64(eventBatchSize), sink.events[eventBatchSize].Entry)
	assert.Equal(t, []int{0}, sink.events[0].JetFlags)
}

func TestProcessFile_PerJetMode(t *testing.T) {
	dir := t.TempDir()
	in := writeEvents(t, dir, "b.jsonl",
		eventLine(1, 0.5, 3.0),
		eventLine(2, 4.0, 3.0),
	)
	j, err := NewJob(newProducer(t, jetveto.ModePerJet), filepath.Join(dir, "out"))
	require.NoError(t, err)

	out := j.OutputPath(in)
	stats, err := j.ProcessFile(context.Background(), in, out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EventsKept)
	assert.Equal(t, int64(0), stats.EventsDropped)
	assert.Equal(t, int64(3), stats.JetsVetoed)
	assert.Equal(t, int64(4), stats.Lookups)

	recs := readOutput(t, out)
	require.Len(t, recs, 2)
	assert.Equal(t, "[0,1]", recs[0].Get(jetveto.JetFlagBranch).Raw)
	assert.Equal(t, "[1,1]", recs[1].Get(jetveto.JetFlagBranch).Raw)
	assert.False(t, recs[0].Get(jetveto.EventFlagBranch).Exists())
}

func TestProcessFile_MalformedEvent(t *testing.T) {
	dir := t.TempDir()
	bad := strings.Replace(eventLine(2, 1.0), `"Jet_phi"`, `"Jet_phiX"`, 1)
	in := writeEvents(t, dir, "c.jsonl", eventLine(1, 1.0), bad)

	j, err := NewJob(newProducer(t, jetveto.ModeEvent), filepath.Join(dir, "out"))
	require.NoError(t, err)

	out := j.OutputPath(in)
	_, err = j.ProcessFile(context.Background(), in, out)
	require.Error(t, err)

	var mf *events.MissingFieldError
	require.True(t, eris.As(err, &mf))
	assert.Equal(t, events.BranchPhi, mf.Branch)
	assert.Equal(t, int64(1), mf.Entry)

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "partial output must be removed")
}

func TestProcessFile_Cancelled(t *testing.T) {
	dir := t.TempDir()
	in := writeEvents(t, dir, "d.jsonl", eventLine(1, 1.0))
	j, err := NewJob(newProducer(t, jetveto.ModeEvent), filepath.Join(dir, "out"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = j.ProcessFile(ctx, in, j.OutputPath(in))
	assert.Error(t, err)
}

func TestRun_ParallelFiles(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := range 6 {
		files = append(files, writeEvents(t, dir, fmt.Sprintf("f%d.jsonl", i),
			eventLine(1, 0.5),
			eventLine(2, 3.0),
		))
	}

	sink := &recordingSink{}
	j, err := NewJob(newProducer(t, jetveto.ModeEvent), filepath.Join(dir, "out"),
		WithConcurrency(3), WithSink("run-x", sink))
	require.NoError(t, err)

	summary, err := j.Run(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, summary.Files, 6)
	assert.Equal(t, int64(12), summary.EventsRead())
	assert.Equal(t, int64(6), summary.EventsKept())
	assert.Equal(t, int64(6), summary.JetsVetoed())
	for i, f := range summary.Files {
		assert.Equal(t, files[i], f.Input, "summary keeps input order")
	}
	assert.Len(t, sink.events, 12)
	assert.Len(t, sink.files, 6)
}

func TestRun_DuplicateOutputs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "x"), 0o755))
	a := writeEvents(t, dir, "same.jsonl", eventLine(1, 0.5))
	b := writeEvents(t, filepath.Join(dir, "x"), "same.jsonl", eventLine(1, 0.5))

	j, err := NewJob(newProducer(t, jetveto.ModeEvent), filepath.Join(dir, "out"))
	require.NoError(t, err)
	_, err = j.Run(context.Background(), []string{a, b})
	assert.Error(t, err)
}

func TestRun_StopsOnError(t *testing.T) {
	dir := t.TempDir()
	good := writeEvents(t, dir, "good.jsonl", eventLine(1, 0.5))
	missing := filepath.Join(dir, "missing.jsonl")

	j, err := NewJob(newProducer(t, jetveto.ModeEvent), filepath.Join(dir, "out"))
	require.NoError(t, err)
	summary, err := j.Run(context.Background(), []string{good, missing})
	require.Error(t, err)
	assert.LessOrEqual(t, len(summary.Files), 1)
}

func TestRun_SQLiteSink(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(dir, "jetveto.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	p := newProducer(t, jetveto.ModePerJet)
	run, err := st.CreateRun(ctx, model.Run{
		Era: p.Config().Era, Correction: p.Config().CorrectionName,
		Mode: string(p.Mode()), Branch: p.Schema().Name,
	})
	require.NoError(t, err)

	files := []string{
		writeEvents(t, dir, "a.jsonl", eventLine(10, 3.0, 0.1)),
		writeEvents(t, dir, "b.jsonl", eventLine(20, 0.1), eventLine(21, 5.0)),
	}
	j, err := NewJob(p, filepath.Join(dir, "out"), WithConcurrency(2), WithSink(run.ID, st))
	require.NoError(t, err)

	summary, err := j.Run(ctx, files)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, run.ID, summary, nil))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, int64(3), got.EventsRead)
	assert.Equal(t, int64(3), got.EventsKept)

	rows, err := st.ListEvents(ctx, run.ID, files[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []int{1, 0}, rows[0].JetFlags)

	stored, err := st.ListFiles(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	out := readOutput(t, j.OutputPath(files[1]))
	require.Len(t, out, 2)
	assert.Equal(t, "[1]", gjson.Get(string(out[1].Raw()), jetveto.JetFlagBranch).Raw)
}
