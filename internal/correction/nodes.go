package correction

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

type node interface {
	eval(vals []value) (float64, error)
}

type constant float64

func (c constant) eval([]value) (float64, error) { return float64(c), nil }

type category struct {
	input    int
	strKeys  map[string]node
	intKeys  map[int64]node
	fallback node
}

func (c *category) eval(vals []value) (float64, error) {
	v := vals[c.input]
	var n node
	if c.strKeys != nil {
		n = c.strKeys[v.s]
	} else {
		n = c.intKeys[int64(v.f)]
	}
	if n == nil {
		n = c.fallback
	}
	if n == nil {
		if c.strKeys != nil {
			return 0, eris.Wrapf(ErrNoCategory, "key %q", v.s)
		}
		return 0, eris.Wrapf(ErrNoCategory, "key %d", int64(v.f))
	}
	return n.eval(vals)
}

type flowKind int

const (
	flowError flowKind = iota
	flowClamp
	flowNode
)

type flow struct {
	kind flowKind
	node node
}

// axis is one binned dimension. Uniform axes locate bins arithmetically so
// a value on an internal edge lands in the bin the edge opens.
type axis struct {
	edges   []float64
	uniform bool
	n       int
	low     float64
	high    float64
}

func (a axis) nbins() int { return len(a.edges) - 1 }

// find returns the bin holding x, -1 below the axis and nbins() at or above
// its upper edge.
func (a axis) find(x float64) int {
	if !a.uniform {
		return findBin(a.edges, x)
	}
	switch {
	case x < a.low:
		return -1
	case x >= a.high:
		return a.n
	}
	return min(int((x-a.low)/(a.high-a.low)*float64(a.n)), a.n-1)
}

type binning struct {
	input   int
	axis    axis
	content []node
	flow    flow
}

func (b *binning) eval(vals []value) (float64, error) {
	x := vals[b.input].f
	if math.IsNaN(x) {
		return 0, eris.Wrap(ErrOutOfRange, "NaN input")
	}

	idx := b.axis.find(x)
	nbins := len(b.content)
	if idx < 0 || idx >= nbins {
		switch b.flow.kind {
		case flowClamp:
			idx = min(max(idx, 0), nbins-1)
		case flowNode:
			return b.flow.node.eval(vals)
		default:
			return 0, eris.Wrapf(ErrOutOfRange, "%g not in [%g, %g)", x, b.axis.edges[0], b.axis.edges[nbins])
		}
	}
	return b.content[idx].eval(vals)
}

type multibinning struct {
	inputs  []int
	axes    []axis
	content []node
	flow    flow
}

func (m *multibinning) eval(vals []value) (float64, error) {
	// Content is row-major: the last input varies fastest.
	idx, stride := 0, 1
	for d := len(m.inputs) - 1; d >= 0; d-- {
		x := vals[m.inputs[d]].f
		if math.IsNaN(x) {
			return 0, eris.Wrap(ErrOutOfRange, "NaN input")
		}

		ax := m.axes[d]
		nbins := ax.nbins()
		local := ax.find(x)
		if local < 0 || local >= nbins {
			switch m.flow.kind {
			case flowClamp:
				local = min(max(local, 0), nbins-1)
			case flowNode:
				return m.flow.node.eval(vals)
			default:
				return 0, eris.Wrapf(ErrOutOfRange, "dimension %d: %g not in [%g, %g)", d, x, ax.edges[0], ax.edges[nbins])
			}
		}
		idx += local * stride
		stride *= nbins
	}
	return m.content[idx].eval(vals)
}

type parser struct {
	inputs []Variable
	index  map[string]int
}

func (p *parser) node(r gjson.Result) (node, error) {
	if r.Type == gjson.Number {
		return constant(r.Float()), nil
	}
	if !r.IsObject() {
		return nil, eris.Errorf("unexpected node %s", truncate(r.Raw))
	}

	switch t := r.Get("nodetype").String(); t {
	case "category":
		return p.category(r)
	case "binning":
		return p.binning(r)
	case "multibinning":
		return p.multibinning(r)
	default:
		return nil, eris.Errorf("unsupported nodetype %q", t)
	}
}

func (p *parser) input(name string, want ...VarType) (int, error) {
	i, ok := p.index[name]
	if !ok {
		return 0, eris.Errorf("unknown input %q", name)
	}
	for _, w := range want {
		if p.inputs[i].Type == w {
			return i, nil
		}
	}
	return 0, eris.Errorf("input %q has type %s, want %v", name, p.inputs[i].Type, want)
}

func (p *parser) category(r gjson.Result) (node, error) {
	in, err := p.input(r.Get("input").String(), TypeString, TypeInt)
	if err != nil {
		return nil, err
	}

	c := &category{input: in}
	if p.inputs[in].Type == TypeString {
		c.strKeys = make(map[string]node)
	} else {
		c.intKeys = make(map[int64]node)
	}

	var cerr error
	r.Get("content").ForEach(func(_, item gjson.Result) bool {
		n, err := p.node(item.Get("value"))
		if err != nil {
			cerr = err
			return false
		}
		key := item.Get("key")
		if c.strKeys != nil {
			c.strKeys[key.String()] = n
		} else {
			c.intKeys[key.Int()] = n
		}
		return true
	})
	if cerr != nil {
		return nil, eris.Wrap(cerr, "category")
	}

	if d := r.Get("default"); d.Exists() && d.Type != gjson.Null {
		c.fallback, err = p.node(d)
		if err != nil {
			return nil, eris.Wrap(err, "category default")
		}
	}
	return c, nil
}

func (p *parser) binning(r gjson.Result) (node, error) {
	in, err := p.input(r.Get("input").String(), TypeReal, TypeInt)
	if err != nil {
		return nil, err
	}
	ax, err := parseAxis(r.Get("edges"))
	if err != nil {
		return nil, eris.Wrap(err, "binning")
	}
	content, err := p.nodes(r.Get("content"))
	if err != nil {
		return nil, eris.Wrap(err, "binning")
	}
	if len(content) != ax.nbins() {
		return nil, eris.Errorf("binning: %d edges but %d content entries", len(ax.edges), len(content))
	}
	fl, err := p.flow(r.Get("flow"))
	if err != nil {
		return nil, eris.Wrap(err, "binning")
	}
	return &binning{input: in, axis: ax, content: content, flow: fl}, nil
}

func (p *parser) multibinning(r gjson.Result) (node, error) {
	m := &multibinning{}
	for _, name := range r.Get("inputs").Array() {
		in, err := p.input(name.String(), TypeReal, TypeInt)
		if err != nil {
			return nil, eris.Wrap(err, "multibinning")
		}
		m.inputs = append(m.inputs, in)
	}

	size := 1
	for _, e := range r.Get("edges").Array() {
		ax, err := parseAxis(e)
		if err != nil {
			return nil, eris.Wrap(err, "multibinning")
		}
		m.axes = append(m.axes, ax)
		size *= ax.nbins()
	}
	if len(m.inputs) == 0 || len(m.axes) != len(m.inputs) {
		return nil, eris.Errorf("multibinning: %d inputs but %d edge sets", len(m.inputs), len(m.axes))
	}

	var err error
	m.content, err = p.nodes(r.Get("content"))
	if err != nil {
		return nil, eris.Wrap(err, "multibinning")
	}
	if len(m.content) != size {
		return nil, eris.Errorf("multibinning: want %d content entries, got %d", size, len(m.content))
	}

	m.flow, err = p.flow(r.Get("flow"))
	if err != nil {
		return nil, eris.Wrap(err, "multibinning")
	}
	return m, nil
}

func (p *parser) nodes(r gjson.Result) ([]node, error) {
	if !r.IsArray() {
		return nil, eris.New("content is not an array")
	}
	items := r.Array()
	out := make([]node, 0, len(items))
	for _, item := range items {
		n, err := p.node(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (p *parser) flow(r gjson.Result) (flow, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return flow{kind: flowError}, nil
	}
	if r.Type == gjson.String {
		switch r.String() {
		case "error":
			return flow{kind: flowError}, nil
		case "clamp":
			return flow{kind: flowClamp}, nil
		default:
			return flow{}, eris.Errorf("unknown flow %q", r.String())
		}
	}
	n, err := p.node(r)
	if err != nil {
		return flow{}, eris.Wrap(err, "flow")
	}
	return flow{kind: flowNode, node: n}, nil
}

// parseAxis accepts an explicit ascending edge list or a uniform
// {"n", "low", "high"} description.
func parseAxis(r gjson.Result) (axis, error) {
	var a axis
	switch {
	case r.IsArray():
		for _, e := range r.Array() {
			a.edges = append(a.edges, e.Float())
		}
	case r.IsObject():
		n := int(r.Get("n").Int())
		low, high := r.Get("low").Float(), r.Get("high").Float()
		if n < 1 || high <= low {
			return axis{}, eris.Errorf("bad uniform edges %s", truncate(r.Raw))
		}
		a = axis{uniform: true, n: n, low: low, high: high, edges: make([]float64, n+1)}
		// Edges size the axis and appear in range errors; lookups use n, low and high.
		for i := range a.edges {
			a.edges[i] = low + (high-low)*float64(i)/float64(n)
		}
		a.edges[n] = high
		return a, nil
	default:
		return axis{}, eris.Errorf("bad edges %s", truncate(r.Raw))
	}

	if len(a.edges) < 2 {
		return axis{}, eris.New("need at least two edges")
	}
	for i := 1; i < len(a.edges); i++ {
		if a.edges[i] <= a.edges[i-1] {
			return axis{}, eris.Errorf("edges not ascending at %d", i)
		}
	}
	return a, nil
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
