package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jetveto/internal/jetveto"
	"github.com/sells-group/jetveto/internal/model"
	"github.com/sells-group/jetveto/internal/pipeline"
	"github.com/sells-group/jetveto/internal/store"
)

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Apply the veto map to event files",
	Long: `Reads JSON-lines event files (one object of NanoAOD branches per line,
optionally .gz), applies the jet veto map and writes the kept events with the
veto branch added.

Per-jet mode adds Jet_veto_flag (one 0/1 per jet) and keeps every event.
Event mode adds Flag_JetVetoed and drops events containing a vetoed jet.

A profile supplies era, correction and mode. --era, --corr and --map override
it; --mode overrides the mode. Overriding the correction without --mode infers
the mode from the correction name (Run 2 names, containing 16, 17 or 18, run
per-jet).

Examples:
  # Run 3 profile, drop vetoed events
  jetveto process --profile jetvetomap2022 nano_1.jsonl nano_2.jsonl

  # Explicit era and correction, local POG checkout, record to SQLite
  jetveto process --era 2018_UL --corr Summer19UL18_V1 --pog-dir ./jsonpog \
      --db jetveto.db nano.jsonl.gz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	addVetoFlags(processCmd)
	f := processCmd.Flags()
	f.String("output-dir", "", "directory for output files (overrides config)")
	f.Int("concurrency", 0, "files processed in parallel (overrides config)")
	f.Bool("compress", false, "gzip output files")
	f.String("db", "", "SQLite run ledger path (overrides config)")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	applyVetoFlags(cmd, &cfg.Veto)
	f := cmd.Flags()
	if f.Changed("output-dir") {
		cfg.Job.OutputDir, _ = f.GetString("output-dir")
	}
	if f.Changed("concurrency") {
		cfg.Job.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("compress") {
		cfg.Job.Compress, _ = f.GetBool("compress")
	}
	if f.Changed("db") {
		cfg.Store.Path, _ = f.GetString("db")
	}

	if err := cfg.Validate("process"); err != nil {
		return err
	}

	vcfg, err := resolveVeto(cfg.Veto)
	if err != nil {
		return err
	}
	producer, err := jetveto.Open(ctx, vcfg, cfg.Veto.POGDir)
	if err != nil {
		return err
	}

	log := zap.L().With(zap.String("command", "process"))
	opts := []pipeline.Option{
		pipeline.WithConcurrency(cfg.Job.Concurrency),
		pipeline.WithCompression(cfg.Job.Compress),
	}

	var st store.Store
	var run *model.Run
	if cfg.Store.Path != "" {
		sq, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return err
		}
		st = sq
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		schema := producer.Schema()
		run, err = st.CreateRun(ctx, model.Run{
			Profile:     cfg.Veto.Profile,
			Era:         vcfg.Era,
			Correction:  vcfg.CorrectionName,
			Mode:        string(producer.Mode()),
			IsMC:        vcfg.IsMC,
			Branch:      schema.Name,
			BranchTitle: schema.Title,
		})
		if err != nil {
			return err
		}
		log = log.With(zap.String("run_id", run.ID))
		opts = append(opts, pipeline.WithSink(run.ID, st))
	}

	job, err := pipeline.NewJob(producer, cfg.Job.OutputDir, opts...)
	if err != nil {
		return err
	}

	log.Info("starting veto job",
		zap.Int("files", len(args)),
		zap.String("mode", string(producer.Mode())),
		zap.Int("concurrency", cfg.Job.Concurrency),
	)
	summary, runErr := job.Run(ctx, args)

	if st != nil {
		if err := st.FinishRun(context.WithoutCancel(ctx), run.ID, summary, runErr); err != nil {
			log.Error("failed to record run", zap.Error(err))
		}
	}
	if runErr != nil {
		return eris.Wrap(runErr, "process")
	}

	printSummary(os.Stdout, summary)
	return nil
}

func printSummary(w io.Writer, s model.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INPUT\tOUTPUT\tREAD\tKEPT\tDROPPED\tJETS VETOED")
	for _, f := range s.Files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			f.Input, f.Output, f.EventsRead, f.EventsKept, f.EventsDropped, f.JetsVetoed)
	}
	fmt.Fprintf(tw, "TOTAL\t\t%d\t%d\t%d\t%d\n",
		s.EventsRead(), s.EventsKept(), s.EventsRead()-s.EventsKept(), s.JetsVetoed())
	tw.Flush() //nolint:errcheck
}
