// Package jetveto applies jet veto maps to collision events. Jets passing a
// loose selection are looked up in a veto map; a positive score marks the jet
// as lying in a hot or cold detector region.
package jetveto

import (
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultVetoMapName is the map key queried inside a veto map correction.
const DefaultVetoMapName = "jetvetomap"

// Output branch names and metadata.
const (
	JetFlagBranch   = "Jet_veto_flag"
	EventFlagBranch = "Flag_JetVetoed"
	EventFlagTitle  = "Event veto flag from Jet Veto Map"
	JetCountBranch  = "nJet"
)

// ErrConfig marks a configuration error. The job cannot start.
var ErrConfig = eris.New("jetveto: invalid configuration")

// Evaluator scores an (eta, phi) point in the named veto map.
type Evaluator interface {
	Evaluate(key string, eta, phi float64) (float64, error)
}

// Mode selects how jet results are aggregated for an event.
type Mode string

// Aggregation modes.
const (
	// ModeAuto infers the mode from the correction name.
	ModeAuto Mode = "auto"
	// ModePerJet flags every jet and never drops an event.
	ModePerJet Mode = "perjet"
	// ModeEvent drops the event at the first vetoed jet.
	ModeEvent Mode = "event"
)

// ParseMode converts a config string to a Mode. Empty means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModePerJet, ModeEvent:
		return m, nil
	default:
		return "", eris.Wrapf(ErrConfig, "unknown mode %q", s)
	}
}

// InferMode returns ModePerJet for Run 2 correction names (those mentioning
// 16, 17 or 18) and ModeEvent otherwise.
func InferMode(correctionName string) Mode {
	for _, y := range []string{"16", "17", "18"} {
		if strings.Contains(correctionName, y) {
			return ModePerJet
		}
	}
	return ModeEvent
}

// Config fixes a producer for the lifetime of a job.
type Config struct {
	IsMC           bool
	Era            string
	CorrectionName string
	VetoMapName    string
	Mode           Mode
}

// Jet holds the per-jet fields the selection and lookup read.
type Jet struct {
	Pt       float64
	JetID    int
	ChEmEF   float64
	NeEmEF   float64
	Eta      float64
	Phi      float64
	MuonIdx1 int
	MuonIdx2 int
}

// Event is one collision event.
type Event struct {
	Run   uint32
	Lumi  uint32
	Event uint64
	Jets  []Jet
}

// BranchSpec declares the output branch a producer fills.
type BranchSpec struct {
	Name   string
	Type   string
	LenVar string
	Title  string
}

// Jagged reports whether the branch holds one value per jet.
func (b BranchSpec) Jagged() bool { return b.LenVar != "" }

// Result is the outcome of processing one event.
type Result struct {
	Keep      bool
	Mode      Mode
	JetFlags  []int
	EventFlag int
	Evaluated int
}

// Value returns the branch value to fill: []int in per-jet mode, int in
// event mode.
func (r Result) Value() any {
	if r.Mode == ModePerJet {
		return r.JetFlags
	}
	return r.EventFlag
}

// Producer evaluates the jet veto map for events. It holds no per-event
// state and is safe for concurrent use.
type Producer struct {
	cfg  Config
	eval Evaluator
}

// New validates cfg and resolves its mode.
func New(cfg Config, eval Evaluator) (*Producer, error) {
	if eval == nil {
		return nil, eris.Wrap(ErrConfig, "nil evaluator")
	}
	if cfg.Era == "" {
		return nil, eris.Wrap(ErrConfig, "era is required")
	}
	if cfg.CorrectionName == "" {
		return nil, eris.Wrap(ErrConfig, "correction name is required")
	}
	if cfg.VetoMapName == "" {
		cfg.VetoMapName = DefaultVetoMapName
	}

	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	if mode == ModeAuto {
		mode = InferMode(cfg.CorrectionName)
	}
	cfg.Mode = mode

	return &Producer{cfg: cfg, eval: eval}, nil
}

// Config returns the resolved configuration.
func (p *Producer) Config() Config { return p.cfg }

// Mode returns the resolved aggregation mode.
func (p *Producer) Mode() Mode { return p.cfg.Mode }

// Schema returns the output branch for this producer's mode.
func (p *Producer) Schema() BranchSpec {
	if p.cfg.Mode == ModePerJet {
		return BranchSpec{Name: JetFlagBranch, Type: "I", LenVar: JetCountBranch}
	}
	return BranchSpec{Name: EventFlagBranch, Type: "I", Title: EventFlagTitle}
}

// Process classifies one event.
func (p *Producer) Process(ev Event) (Result, error) {
	if p.cfg.Mode == ModePerJet {
		return p.processPerJet(ev)
	}
	return p.processEvent(ev)
}

func (p *Producer) processPerJet(ev Event) (Result, error) {
	res := Result{Keep: true, Mode: ModePerJet, JetFlags: make([]int, len(ev.Jets))}
	for i, jet := range ev.Jets {
		if !LooseSelection(jet) {
			continue
		}
		vetoed, err := p.vetoed(jet)
		res.Evaluated++
		if err != nil {
			return Result{}, eris.Wrapf(err, "jetveto: event %d jet %d", ev.Event, i)
		}
		if vetoed {
			res.JetFlags[i] = 1
		}
	}
	return res, nil
}

func (p *Producer) processEvent(ev Event) (Result, error) {
	res := Result{Keep: true, Mode: ModeEvent}
	for i, jet := range ev.Jets {
		if !LooseSelection(jet) {
			continue
		}
		vetoed, err := p.vetoed(jet)
		res.Evaluated++
		if err != nil {
			return Result{}, eris.Wrapf(err, "jetveto: event %d jet %d", ev.Event, i)
		}
		if vetoed {
			res.EventFlag = 1
			res.Keep = false
			break
		}
	}
	return res, nil
}

func (p *Producer) vetoed(j Jet) (bool, error) {
	score, err := p.eval.Evaluate(p.cfg.VetoMapName, j.Eta, FixPhi(j.Phi))
	if err != nil {
		return false, err
	}
	return score > 0, nil
}
