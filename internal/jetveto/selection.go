package jetveto

import "math"

// Loose selection thresholds.
const (
	MinPt        = 15.0
	MaxEMFrac    = 0.9
	NoMuon       = -1
	PhiEpsilon   = 1e-6
	tightID      = 2
	tightLepVeto = 6
)

// LooseSelection reports whether j passes the nominal veto map selection:
// pt above 15 GeV, tight ID, EM fraction below 0.9 and no overlapping muon.
func LooseSelection(j Jet) bool {
	return j.Pt > MinPt &&
		(j.JetID == tightID || j.JetID == tightLepVeto) &&
		j.ChEmEF+j.NeEmEF < MaxEMFrac &&
		j.MuonIdx1 == NoMuon && j.MuonIdx2 == NoMuon
}

// FixPhi pulls phi beyond ±π just inside the range so the lookup never hits
// the map boundary. In-range values are returned unchanged.
func FixPhi(phi float64) float64 {
	switch {
	case phi > math.Pi:
		return math.Pi - PhiEpsilon
	case phi < -math.Pi:
		return -math.Pi + PhiEpsilon
	}
	return phi
}
