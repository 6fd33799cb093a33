package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/jetveto/internal/jetveto"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List built-in veto map profiles",
	RunE: func(cmd *cobra.Command, _ []string) error {
		formatProfiles(os.Stdout, jetveto.Profiles())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

func formatProfiles(w io.Writer, profiles []jetveto.Profile) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tERA\tCORRECTION\tMODE\tMC")
	for _, p := range profiles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", p.Name, p.Era, p.Correction, p.Mode, p.IsMC)
	}
	tw.Flush() //nolint:errcheck
}
