// Package calc describes the process kinds that can be submitted and the
// builder that assembles their input bundles.
package calc

import (
	"errors"
	"fmt"
	"sort"

	"fleur-q/internal/node"
)

var (
	ErrUnknownKind      = errors.New("unknown process kind")
	ErrUnknownPort      = errors.New("unknown input port")
	ErrIncompleteBundle = errors.New("input bundle incomplete")
)

const (
	PluginInpgen = "fleur.inpgen"
	PluginFleur  = "fleur.fleur"
)

// PortKind says what a port accepts.
type PortKind int

const (
	PortNode PortKind = iota
	PortDict
	PortOptions
)

// Port is one named input of a process kind.
type Port struct {
	Name     string
	Kind     PortKind
	NodeType node.Type // PortNode only
	Plugin   string    // required code plugin, PortNode with NodeType code only
	Required bool
	Check    func(map[string]any) error // PortDict only
}

// Kind is a submittable calculation or workchain.
type Kind struct {
	Name     string
	Class    string
	NodeType node.Type
	Ports    []Port
	// Subject is the port whose node names the job in acknowledgements.
	Subject string

	short string
	long  string
}

// Port looks up a port by name.
func (k *Kind) Port(name string) (Port, bool) {
	for _, p := range k.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// OptionsPort returns the name of the port taking resource options.
func (k *Kind) OptionsPort() string {
	for _, p := range k.Ports {
		if p.Kind == PortOptions {
			return p.Name
		}
	}
	return ""
}

// Acknowledge renders the line printed after a successful submission.
// The formula is omitted when empty.
func (k *Kind) Acknowledge(pk int64, formula string) string {
	if formula == "" {
		return fmt.Sprintf(k.short, pk)
	}
	return fmt.Sprintf(k.long, pk, formula)
}

var registry = map[string]*Kind{}

func register(k *Kind) {
	registry[k.Name] = k
}

func init() {
	register(&Kind{
		Name:     "fleur.inpgen",
		Class:    "FleurinputgenCalculation",
		NodeType: node.TypeCalcJob,
		Subject:  "structure",
		Ports: []Port{
			{Name: "code", Kind: PortNode, NodeType: node.TypeCode, Plugin: PluginInpgen, Required: true},
			{Name: "structure", Kind: PortNode, NodeType: node.TypeStructure, Required: true},
			{Name: "parameters", Kind: PortDict, Required: true, Check: CheckInpgenParameters},
			{Name: "metadata.options", Kind: PortOptions, Required: true},
		},
		short: "The PK of submitted inpgen job is %d",
		long:  "The PK of submitted inpgen job is %d for %s structure",
	})
	register(&Kind{
		Name:     "fleur.fleur",
		Class:    "FleurCalculation",
		NodeType: node.TypeCalcJob,
		Subject:  "fleurinp",
		Ports: []Port{
			{Name: "code", Kind: PortNode, NodeType: node.TypeCode, Plugin: PluginFleur, Required: true},
			{Name: "fleurinp", Kind: PortNode, NodeType: node.TypeFleurinp, Required: true},
			{Name: "parameters", Kind: PortDict, Check: CheckInpgenParameters},
			{Name: "metadata.options", Kind: PortOptions, Required: true},
		},
		short: "The PK of submitted fleur job is %d",
		long:  "The PK of submitted fleur job is %d for %s structure",
	})
	register(&Kind{
		Name:     "fleur.ssdisp",
		Class:    "FleurSSDispWorkChain",
		NodeType: node.TypeWorkChain,
		Subject:  "fleurinp",
		Ports: []Port{
			{Name: "fleur", Kind: PortNode, NodeType: node.TypeCode, Plugin: PluginFleur, Required: true},
			{Name: "fleurinp", Kind: PortNode, NodeType: node.TypeFleurinp, Required: true},
			{Name: "calc_parameters", Kind: PortDict, Check: CheckInpgenParameters},
			{Name: "wf_parameters", Kind: PortDict, Check: CheckSSDispParameters},
			{Name: "options", Kind: PortOptions, Required: true},
		},
		short: "Submitted SSDisp workchain pk=%d",
		long:  "Submitted SSDisp workchain pk=%d for %s structure",
	})
}

// Lookup returns the kind registered under name or its class name.
func Lookup(name string) (*Kind, error) {
	if k, ok := registry[name]; ok {
		return k, nil
	}
	for _, k := range registry {
		if k.Class == name {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownKind, name)
}

// Kinds lists every registered kind sorted by name.
func Kinds() []*Kind {
	out := make([]*Kind, 0, len(registry))
	for _, k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
