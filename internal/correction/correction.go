// Package correction loads correction-set JSON files (schema version 2) and
// evaluates the binned corrections they contain.
package correction

import (
	"bytes"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// SchemaVersion is the only correction-set schema version Parse accepts.
const SchemaVersion = 2

var (
	// ErrUnknownCorrection is returned by Set.Get for names not in the file.
	ErrUnknownCorrection = eris.New("correction: unknown correction")
	// ErrOutOfRange is returned when an input falls outside a binning whose
	// flow is "error".
	ErrOutOfRange = eris.New("correction: input out of range")
	// ErrNoCategory is returned when a category node has no matching key and
	// no default.
	ErrNoCategory = eris.New("correction: no matching category")
)

// VarType is the declared type of a correction input or output.
type VarType string

// Input and output variable types.
const (
	TypeString VarType = "string"
	TypeInt    VarType = "int"
	TypeReal   VarType = "real"
)

// Variable describes one correction input or the correction output.
type Variable struct {
	Name        string
	Type        VarType
	Description string
}

// Set is a parsed correction-set file.
type Set struct {
	Description string
	corrections map[string]*Correction
	names       []string
}

// Load reads a correction set from path. Gzip-compressed files are detected
// by their magic bytes.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "correction: read %s", path)
	}

	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrapf(err, "correction: gzip %s", path)
		}
		defer zr.Close() //nolint:errcheck
		data, err = io.ReadAll(zr)
		if err != nil {
			return nil, eris.Wrapf(err, "correction: decompress %s", path)
		}
	}

	set, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "correction: parse %s", path)
	}
	return set, nil
}

// Parse builds a Set from uncompressed JSON.
func Parse(data []byte) (*Set, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.New("correction: invalid json")
	}
	root := gjson.ParseBytes(data)

	if v := root.Get("schema_version"); !v.Exists() || v.Int() != SchemaVersion {
		return nil, eris.Errorf("correction: unsupported schema_version %q", v.Raw)
	}

	list := root.Get("corrections")
	if !list.IsArray() {
		return nil, eris.New("correction: missing corrections array")
	}

	set := &Set{
		Description: root.Get("description").String(),
		corrections: make(map[string]*Correction),
	}

	var parseErr error
	list.ForEach(func(_, item gjson.Result) bool {
		c, err := parseCorrection(item)
		if err != nil {
			parseErr = err
			return false
		}
		if _, dup := set.corrections[c.Name]; dup {
			parseErr = eris.Errorf("correction: duplicate correction %q", c.Name)
			return false
		}
		set.corrections[c.Name] = c
		set.names = append(set.names, c.Name)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return set, nil
}

// Get returns the named correction.
func (s *Set) Get(name string) (*Correction, error) {
	c, ok := s.corrections[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownCorrection, "name %q (have %v)", name, s.names)
	}
	return c, nil
}

// Names returns the correction names in file order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Correction is a single named correction function.
type Correction struct {
	Name        string
	Description string
	Version     int
	Inputs      []Variable
	Output      Variable

	data node
}

// Evaluate computes the correction for args given in declared input order.
// String inputs take a string; int and real inputs take any Go numeric type.
func (c *Correction) Evaluate(args ...any) (float64, error) {
	if len(args) != len(c.Inputs) {
		return 0, eris.Errorf("correction: %s takes %d inputs, got %d", c.Name, len(c.Inputs), len(args))
	}

	vals := make([]value, len(args))
	for i, a := range args {
		v, err := toValue(c.Inputs[i], a)
		if err != nil {
			return 0, eris.Wrapf(err, "correction: %s", c.Name)
		}
		vals[i] = v
	}

	out, err := c.data.eval(vals)
	if err != nil {
		return 0, eris.Wrapf(err, "correction: evaluate %s", c.Name)
	}
	return out, nil
}

type value struct {
	s string
	f float64
}

func toValue(in Variable, a any) (value, error) {
	if in.Type == TypeString {
		s, ok := a.(string)
		if !ok {
			return value{}, eris.Errorf("input %s: want string, got %T", in.Name, a)
		}
		return value{s: s}, nil
	}

	var f float64
	switch x := a.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	default:
		return value{}, eris.Errorf("input %s: want number, got %T", in.Name, a)
	}
	return value{f: f}, nil
}

func parseCorrection(r gjson.Result) (*Correction, error) {
	c := &Correction{
		Name:        r.Get("name").String(),
		Description: r.Get("description").String(),
		Version:     int(r.Get("version").Int()),
	}
	if c.Name == "" {
		return nil, eris.New("correction: correction without name")
	}

	index := make(map[string]int)
	var verr error
	r.Get("inputs").ForEach(func(_, in gjson.Result) bool {
		v, err := parseVariable(in)
		if err != nil {
			verr = err
			return false
		}
		index[v.Name] = len(c.Inputs)
		c.Inputs = append(c.Inputs, v)
		return true
	})
	if verr != nil {
		return nil, eris.Wrapf(verr, "correction: %s inputs", c.Name)
	}

	out, err := parseVariable(r.Get("output"))
	if err != nil {
		return nil, eris.Wrapf(err, "correction: %s output", c.Name)
	}
	c.Output = out

	p := parser{inputs: c.Inputs, index: index}
	c.data, err = p.node(r.Get("data"))
	if err != nil {
		return nil, eris.Wrapf(err, "correction: %s data", c.Name)
	}
	return c, nil
}

func parseVariable(r gjson.Result) (Variable, error) {
	v := Variable{
		Name:        r.Get("name").String(),
		Type:        VarType(r.Get("type").String()),
		Description: r.Get("description").String(),
	}
	switch v.Type {
	case TypeString, TypeInt, TypeReal:
	default:
		return v, eris.Errorf("variable %q: unknown type %q", v.Name, v.Type)
	}
	return v, nil
}

// findBin returns the bin holding x for the given edges, or -1 below the
// first edge and len(edges)-1 at or above the last.
func findBin(edges []float64, x float64) int {
	return sort.Search(len(edges), func(i int) bool { return edges[i] > x }) - 1
}
