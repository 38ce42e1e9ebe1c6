package calc

import (
	"fmt"
	"sort"
	"strings"

	"fleur-q/internal/node"
)

// Builder collects the inputs of one process kind. Ports are assigned by
// name; Build refuses to produce a bundle until every required port is set.
type Builder struct {
	kind    *Kind
	nodes   map[string]*node.Node
	dicts   map[string]map[string]any
	options map[string]node.Options
}

// NewBuilder returns an empty builder for the named kind.
func NewBuilder(kind string) (*Builder, error) {
	k, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	return k.Builder(), nil
}

// Builder returns an empty builder shaped for k.
func (k *Kind) Builder() *Builder {
	return &Builder{
		kind:    k,
		nodes:   make(map[string]*node.Node),
		dicts:   make(map[string]map[string]any),
		options: make(map[string]node.Options),
	}
}

func (b *Builder) Kind() *Kind { return b.kind }

func (b *Builder) port(name string, want PortKind) (Port, error) {
	p, ok := b.kind.Port(name)
	if !ok {
		return Port{}, fmt.Errorf("%w %q for %s", ErrUnknownPort, name, b.kind.Name)
	}
	if p.Kind != want {
		return Port{}, fmt.Errorf("port %s.%s does not accept this kind of value", b.kind.Name, name)
	}
	return p, nil
}

// SetNode assigns a resolved handle to a node port.
func (b *Builder) SetNode(name string, n *node.Node) error {
	p, err := b.port(name, PortNode)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("port %s: nil node", name)
	}
	if n.Type != p.NodeType {
		return fmt.Errorf("port %s expects %s, got %s", name, p.NodeType, n)
	}
	if p.Plugin != "" && (n.Code == nil || n.Code.Plugin != p.Plugin) {
		got := ""
		if n.Code != nil {
			got = n.Code.Plugin
		}
		return fmt.Errorf("port %s expects a %s code, got plugin %q", name, p.Plugin, got)
	}
	b.nodes[name] = n
	return nil
}

// SetDict assigns a parameters record to a dict port.
func (b *Builder) SetDict(name string, d map[string]any) error {
	p, err := b.port(name, PortDict)
	if err != nil {
		return err
	}
	if d == nil {
		d = map[string]any{}
	}
	n, err := normalize(d)
	if err != nil {
		return fmt.Errorf("port %s: %w", name, err)
	}
	d = n.(map[string]any)
	if p.Check != nil {
		if err := p.Check(d); err != nil {
			return fmt.Errorf("port %s: %w", name, err)
		}
	}
	b.dicts[name] = d
	return nil
}

// SetOptions assigns the resource options.
func (b *Builder) SetOptions(name string, o node.Options) error {
	if _, err := b.port(name, PortOptions); err != nil {
		return err
	}
	o = o.Normalized()
	if err := o.Validate(); err != nil {
		return fmt.Errorf("port %s: %w", name, err)
	}
	b.options[name] = o
	return nil
}

func (b *Builder) assigned(name string) bool {
	if _, ok := b.nodes[name]; ok {
		return true
	}
	if _, ok := b.dicts[name]; ok {
		return true
	}
	_, ok := b.options[name]
	return ok
}

// Build returns the bundle, or ErrIncompleteBundle naming the unset ports.
func (b *Builder) Build() (*Bundle, error) {
	var missing []string
	for _, p := range b.kind.Ports {
		if p.Required && !b.assigned(p.Name) {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s needs %s", ErrIncompleteBundle, b.kind.Name, strings.Join(missing, ", "))
	}

	bundle := &Bundle{
		Kind:    b.kind,
		Nodes:   make(map[string]*node.Node, len(b.nodes)),
		Dicts:   make(map[string]map[string]any, len(b.dicts)),
		Options: make(map[string]node.Options, len(b.options)),
	}
	for k, v := range b.nodes {
		bundle.Nodes[k] = v
	}
	for k, v := range b.dicts {
		bundle.Dicts[k] = v
	}
	for k, v := range b.options {
		bundle.Options[k] = v
	}
	return bundle, nil
}

// Bundle is a complete set of inputs for one submission.
type Bundle struct {
	Kind    *Kind
	Nodes   map[string]*node.Node
	Dicts   map[string]map[string]any
	Options map[string]node.Options
}

// Subject returns the node that names the job, if assigned.
func (b *Bundle) Subject() *node.Node {
	return b.Nodes[b.Kind.Subject]
}

// Request converts the bundle to its wire form.
func (b *Bundle) Request() SubmitRequest {
	req := SubmitRequest{
		Process: b.Kind.Name,
		Inputs:  make(map[string]int64, len(b.Nodes)),
		Dicts:   b.Dicts,
		Options: b.Options,
	}
	for port, n := range b.Nodes {
		req.Inputs[port] = n.PK
	}
	return req
}

// SubmitRequest is what travels to the engine: handles by PK, records inline.
type SubmitRequest struct {
	Process string                    `json:"process"`
	Inputs  map[string]int64          `json:"inputs"`
	Dicts   map[string]map[string]any `json:"dicts,omitempty"`
	Options map[string]node.Options   `json:"options"`
}
