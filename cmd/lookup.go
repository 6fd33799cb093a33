package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/jetveto/internal/jetveto"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Query the veto map at one (eta, phi) point",
	Long: `Evaluates the configured veto map at a point, after the same phi
normalisation the event processing applies.

Example:
  jetveto lookup --profile jetvetomap2022 --eta 1.2 --phi 3.2`,
	RunE: runLookup,
}

func init() {
	addVetoFlags(lookupCmd)
	f := lookupCmd.Flags()
	f.Float64("eta", 0, "jet pseudorapidity")
	f.Float64("phi", 0, "jet azimuth in radians")

	rootCmd.AddCommand(lookupCmd)
}

func runLookup(cmd *cobra.Command, _ []string) error {
	applyVetoFlags(cmd, &cfg.Veto)
	if err := cfg.Validate("lookup"); err != nil {
		return err
	}
	vcfg, err := resolveVeto(cfg.Veto)
	if err != nil {
		return err
	}

	vm, err := jetveto.LoadVetoMap(cmd.Context(), cfg.Veto.POGDir, vcfg.Era, vcfg.CorrectionName)
	if err != nil {
		return err
	}

	eta, _ := cmd.Flags().GetFloat64("eta")
	phi, _ := cmd.Flags().GetFloat64("phi")
	mapName := vcfg.VetoMapName
	if mapName == "" {
		mapName = jetveto.DefaultVetoMapName
	}

	fixed := jetveto.FixPhi(phi)
	score, err := vm.Evaluate(mapName, eta, fixed)
	if err != nil {
		return err
	}
	printLookup(os.Stdout, vm.Name(), mapName, eta, phi, fixed, score)
	return nil
}

func printLookup(w io.Writer, corr, mapName string, eta, phi, fixed, score float64) {
	fmt.Fprintf(w, "correction: %s\nmap:        %s\neta:        %g\nphi:        %g", corr, mapName, eta, phi)
	if fixed != phi {
		fmt.Fprintf(w, " (evaluated at %g)", fixed)
	}
	fmt.Fprintf(w, "\nscore:      %g\nvetoed:     %t\n", score, score > 0)
}
