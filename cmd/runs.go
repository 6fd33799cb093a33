package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/jetveto/internal/model"
	"github.com/sells-group/jetveto/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect veto job history",
	Long:  "Commands for listing and viewing jobs recorded in the SQLite run ledger.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List veto jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		era, _ := cmd.Flags().GetString("era")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Era:    era,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a job and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "runs show %s", args[0])
		}
		files, err := st.ListFiles(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		formatRunDetail(os.Stdout, run, files)
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().String("db", "", "SQLite run ledger path (overrides config)")

	runsListCmd.Flags().String("status", "", "filter by status (running, complete, failed)")
	runsListCmd.Flags().String("era", "", "filter by era")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")

	runsCmd.AddCommand(runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	if cmd.Flags().Changed("db") {
		cfg.Store.Path, _ = cmd.Flags().GetString("db")
	}
	if err := cfg.Validate("runs"); err != nil {
		return nil, err
	}
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(cmd.Context()); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tERA\tCORRECTION\tMODE\tSTATUS\tFILES\tREAD\tKEPT\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(r.ID), r.Era, r.Correction, r.Mode, r.Status,
			r.Files, r.EventsRead, r.EventsKept, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func formatRunDetail(w io.Writer, r *model.Run, files []model.FileStats) {
	fmt.Fprintf(w, "Run:        %s\n", r.ID)
	if r.Profile != "" {
		fmt.Fprintf(w, "Profile:    %s\n", r.Profile)
	}
	fmt.Fprintf(w, "Era:        %s\n", r.Era)
	fmt.Fprintf(w, "Correction: %s\n", r.Correction)
	fmt.Fprintf(w, "Mode:       %s\n", r.Mode)
	fmt.Fprintf(w, "Branch:     %s", r.Branch)
	if r.BranchTitle != "" {
		fmt.Fprintf(w, " (%s)", r.BranchTitle)
	}
	fmt.Fprintf(w, "\nStatus:     %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", r.Error)
	}
	fmt.Fprintf(w, "Events:     %d read, %d kept\n", r.EventsRead, r.EventsKept)
	fmt.Fprintf(w, "Duration:   %s\n", r.UpdatedAt.Sub(r.CreatedAt).Round(time.Millisecond))

	if len(files) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INPUT\tREAD\tKEPT\tDROPPED\tJETS VETOED\tLOOKUPS\tDURATION")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			f.Input, f.EventsRead, f.EventsKept, f.EventsDropped, f.JetsVetoed, f.Lookups, f.Duration)
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
