package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/jetveto/internal/config"
	"github.com/sells-group/jetveto/internal/jetveto"
)

// addVetoFlags registers the veto map selection flags shared by process and
// lookup.
func addVetoFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("profile", "", "built-in profile (see `jetveto profiles`)")
	f.String("era", "", "data-taking era, e.g. 2022_Summer22 (overrides profile)")
	f.String("corr", "", "correction set name inside the veto map file (overrides profile)")
	f.String("mode", "", "aggregation mode: auto, perjet or event (overrides profile)")
	f.String("map", "", "veto map key inside the correction (default jetvetomap)")
	f.String("pog-dir", "", "base directory holding POG/JME/<era>/jetvetomaps.json.gz")
	f.Bool("mc", true, "input is simulation")
}

// applyVetoFlags copies explicitly set flags over the loaded config.
func applyVetoFlags(cmd *cobra.Command, vc *config.VetoConfig) {
	f := cmd.Flags()
	for flag, dst := range map[string]*string{
		"profile": &vc.Profile,
		"era":     &vc.Era,
		"corr":    &vc.Correction,
		"mode":    &vc.Mode,
		"map":     &vc.VetoMapName,
		"pog-dir": &vc.POGDir,
	} {
		if f.Changed(flag) {
			*dst, _ = f.GetString(flag)
		}
	}
	if f.Changed("mc") {
		vc.IsMC, _ = f.GetBool("mc")
	}
}

// resolveVeto builds the producer config. A profile supplies defaults; era,
// correction, map name and an explicit (non-auto) mode override it. A
// profile's mode belongs to its correction, so overriding the correction
// without --mode falls back to inferring the mode from the new name.
func resolveVeto(vc config.VetoConfig) (jetveto.Config, error) {
	out := jetveto.Config{
		IsMC:           vc.IsMC,
		Era:            vc.Era,
		CorrectionName: vc.Correction,
		VetoMapName:    vc.VetoMapName,
	}
	mode, err := jetveto.ParseMode(vc.Mode)
	if err != nil {
		return jetveto.Config{}, err
	}
	out.Mode = mode

	if vc.Profile == "" {
		return out, nil
	}

	p, err := jetveto.LookupProfile(vc.Profile)
	if err != nil {
		return jetveto.Config{}, err
	}
	base := p.Config()
	if out.Era != "" {
		base.Era = out.Era
	}
	if out.CorrectionName != "" && out.CorrectionName != base.CorrectionName {
		base.CorrectionName = out.CorrectionName
		base.Mode = jetveto.ModeAuto
	}
	if out.VetoMapName != "" {
		base.VetoMapName = out.VetoMapName
	}
	if out.Mode != jetveto.ModeAuto {
		base.Mode = out.Mode
	}
	base.IsMC = out.IsMC
	return base, nil
}
