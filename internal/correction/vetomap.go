package correction

import "github.com/rotisserie/eris"

// VetoMap evaluates a jet veto map correction with inputs (type, eta, phi).
type VetoMap struct {
	c *Correction
}

// NewVetoMap checks that c has the (string, real, real) input signature of a
// veto map.
func NewVetoMap(c *Correction) (*VetoMap, error) {
	if c == nil {
		return nil, eris.New("correction: nil veto map correction")
	}
	if len(c.Inputs) != 3 ||
		c.Inputs[0].Type != TypeString ||
		c.Inputs[1].Type != TypeReal ||
		c.Inputs[2].Type != TypeReal {
		return nil, eris.Errorf("correction: %s is not a veto map (inputs %v)", c.Name, c.Inputs)
	}
	return &VetoMap{c: c}, nil
}

// Name returns the underlying correction name.
func (v *VetoMap) Name() string { return v.c.Name }

// Evaluate returns the veto score at (eta, phi) for the given map key.
func (v *VetoMap) Evaluate(key string, eta, phi float64) (float64, error) {
	return v.c.Evaluate(key, eta, phi)
}
