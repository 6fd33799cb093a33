// Package pipeline drives veto jobs over event files: it declares the output
// branch per file, runs the producer on every event in order, and writes the
// kept events.
package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jetveto/internal/events"
	"github.com/sells-group/jetveto/internal/jetveto"
	"github.com/sells-group/jetveto/internal/model"
)

// eventBatchSize is how many event rows are buffered per file before they
// are handed to the sink.
const eventBatchSize = 1000

// Sink receives per-event outcomes in batches and per-file statistics.
type Sink interface {
	RecordEvents(ctx context.Context, runID string, rows []model.EventRow) error
	FinishFile(ctx context.Context, runID string, stats model.FileStats) error
}

// Job applies one producer to a set of files. The producer is shared
// read-only by all file workers.
type Job struct {
	producer    *jetveto.Producer
	outputDir   string
	concurrency int
	compress    bool
	sink        Sink
	runID       string
}

// Option configures a Job.
type Option func(*Job)

// WithConcurrency sets how many files are processed at once.
func WithConcurrency(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.concurrency = n
		}
	}
}

// WithCompression gzip-compresses output files.
func WithCompression(on bool) Option {
	return func(j *Job) { j.compress = on }
}

// WithSink records outcomes under runID.
func WithSink(runID string, sink Sink) Option {
	return func(j *Job) {
		j.runID = runID
		j.sink = sink
	}
}

// NewJob creates a Job writing into outputDir.
func NewJob(producer *jetveto.Producer, outputDir string, opts ...Option) (*Job, error) {
	if producer == nil {
		return nil, eris.New("pipeline: nil producer")
	}
	if outputDir == "" {
		return nil, eris.New("pipeline: output dir is required")
	}
	j := &Job{producer: producer, outputDir: outputDir, concurrency: 1}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// OutputPath returns where the kept events of input are written.
func (j *Job) OutputPath(input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, ".gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	name := base + "_vetoed.jsonl"
	if j.compress {
		name += ".gz"
	}
	return filepath.Join(j.outputDir, name)
}

// Run processes files concurrently. Events within a file are processed in
// order. The first fatal error cancels the remaining files.
func (j *Job) Run(ctx context.Context, files []string) (model.Summary, error) {
	outputs := make(map[string]string, len(files))
	for _, in := range files {
		out := j.OutputPath(in)
		if prev, dup := outputs[out]; dup {
			return model.Summary{}, eris.Errorf("pipeline: %s and %s both write %s", prev, in, out)
		}
		outputs[out] = in
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)

	var mu sync.Mutex
	done := make([]*model.FileStats, len(files))

	for i, in := range files {
		g.Go(func() error {
			stats, err := j.ProcessFile(gCtx, in, j.OutputPath(in))
			if err != nil {
				return err
			}
			mu.Lock()
			done[i] = &stats
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()

	var summary model.Summary
	for _, s := range done {
		if s != nil {
			summary.Files = append(summary.Files, *s)
		}
	}

	zap.L().Info("pipeline: job complete",
		zap.Int("files", len(files)),
		zap.Int("completed", len(summary.Files)),
		zap.Int64("events_read", summary.EventsRead()),
		zap.Int64("events_kept", summary.EventsKept()),
		zap.Int64("jets_vetoed", summary.JetsVetoed()),
		zap.Error(err),
	)
	return summary, err
}

// ProcessFile runs the producer over every event of in and writes the kept
// events to out. A partial output is removed on error.
func (j *Job) ProcessFile(ctx context.Context, in, out string) (stats model.FileStats, err error) {
	start := time.Now()
	stats = model.FileStats{Input: in, Output: out}
	log := zap.L().With(zap.String("input", in))

	r, err := events.Open(in)
	if err != nil {
		return stats, err
	}
	defer r.Close() //nolint:errcheck

	w, err := events.Create(out)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(out)
		}
	}()

	spec := j.producer.Schema()
	if err := w.Declare(spec); err != nil {
		return stats, err
	}
	log.Debug("pipeline: branch declared",
		zap.String("branch", spec.Name),
		zap.String("len_var", spec.LenVar),
		zap.String("title", spec.Title),
	)

	var batch []model.EventRow
	flush := func() error {
		if j.sink == nil || len(batch) == 0 {
			return nil
		}
		if err := j.sink.RecordEvents(ctx, j.runID, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrapf(err, "pipeline: %s", in)
		}

		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, eris.Wrapf(err, "pipeline: %s", in)
		}

		ev, err := rec.Event()
		if err != nil {
			return stats, eris.Wrapf(err, "pipeline: %s", in)
		}
		res, err := j.producer.Process(ev)
		if err != nil {
			return stats, eris.Wrapf(err, "pipeline: %s entry %d", in, rec.Entry)
		}

		stats.EventsRead++
		stats.Lookups += int64(res.Evaluated)
		stats.JetsVetoed += int64(vetoedJets(res))

		if j.sink != nil {
			batch = append(batch, model.EventRow{
				File:     in,
				Entry:    rec.Entry,
				Run:      ev.Run,
				Lumi:     ev.Lumi,
				Event:    ev.Event,
				Keep:     res.Keep,
				Flag:     res.EventFlag,
				JetFlags: res.JetFlags,
			})
			if len(batch) >= eventBatchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}

		if !res.Keep {
			stats.EventsDropped++
			continue
		}
		if err := w.Fill(rec, res.Value()); err != nil {
			return stats, err
		}
		stats.EventsKept++
	}

	if err := flush(); err != nil {
		return stats, err
	}
	stats.Duration = time.Since(start)
	if j.sink != nil {
		if err := j.sink.FinishFile(ctx, j.runID, stats); err != nil {
			return stats, err
		}
	}

	log.Info("pipeline: file complete",
		zap.String("output", out),
		zap.Int64("events_read", stats.EventsRead),
		zap.Int64("events_kept", stats.EventsKept),
		zap.Int64("events_dropped", stats.EventsDropped),
		zap.Int64("jets_vetoed", stats.JetsVetoed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func vetoedJets(res jetveto.Result) int {
	if res.Mode != jetveto.ModePerJet {
		return res.EventFlag
	}
	n := 0
	for _, f := range res.JetFlags {
		n += f
	}
	return n
}
