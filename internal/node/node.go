// Package node holds the persisted entities a submission refers to: codes,
// structures, parameter dicts, FLEUR input data and process records. Every
// entity is addressed by a store-assigned PK or its UUID.
package node

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when an identifier resolves to no stored node.
	ErrNotFound = errors.New("node not found")
	// ErrNoOutput is returned when a node carries no output under the requested link label.
	ErrNoOutput = errors.New("node has no such output")
	// ErrPlaceholder marks identifiers that were never filled in (`??`, `xxx`).
	ErrPlaceholder = errors.New("unresolved placeholder identifier")
)

// Type is the dotted node type string.
type Type string

const (
	TypeCode      Type = "data.core.code"
	TypeStructure Type = "data.core.structure"
	TypeDict      Type = "data.core.dict"
	TypeFleurinp  Type = "data.fleur.fleurinp"
	TypeCalcJob   Type = "process.calcjob"
	TypeWorkChain Type = "process.workchain"
)

// IsProcess reports whether nodes of this type record a submitted process.
func (t Type) IsProcess() bool {
	return t == TypeCalcJob || t == TypeWorkChain
}

// Code registers an executable with the engine.
type Code struct {
	Plugin     string `json:"input_plugin" yaml:"input_plugin"`
	Computer   string `json:"computer" yaml:"computer"`
	Executable string `json:"executable" yaml:"executable"`
}

// Fleurinp is the FLEUR input produced by an inpgen run.
type Fleurinp struct {
	Formula   string            `json:"formula"`
	Structure int64             `json:"structure,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
}

// Node is one persisted entity. Exactly one payload field is set, matching Type.
type Node struct {
	PK          int64     `json:"pk"`
	UUID        string    `json:"uuid"`
	Type        Type      `json:"type"`
	Label       string    `json:"label,omitempty"`
	Description string    `json:"description,omitempty"`
	Ctime       time.Time `json:"ctime"`
	Mtime       time.Time `json:"mtime"`

	Code      *Code          `json:"code,omitempty"`
	Structure *Structure     `json:"structure,omitempty"`
	Dict      map[string]any `json:"dict,omitempty"`
	Fleurinp  *Fleurinp      `json:"fleurinp,omitempty"`
	Process   *Process       `json:"process,omitempty"`
}

// Validate checks that the payload matches the declared type.
func (n *Node) Validate() error {
	if n == nil {
		return errors.New("nil node")
	}
	var ok bool
	switch n.Type {
	case TypeCode:
		ok = n.Code != nil && n.Code.Plugin != ""
	case TypeStructure:
		if n.Structure == nil {
			break
		}
		if err := n.Structure.Validate(); err != nil {
			return fmt.Errorf("structure: %w", err)
		}
		ok = true
	case TypeDict:
		ok = n.Dict != nil
	case TypeFleurinp:
		ok = n.Fleurinp != nil
	case TypeCalcJob, TypeWorkChain:
		ok = n.Process != nil && n.Process.Kind != ""
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}
	if !ok {
		return fmt.Errorf("node of type %s is missing its payload", n.Type)
	}
	return nil
}

// Output returns the PK linked from this node under label.
func (n *Node) Output(label string) (int64, error) {
	if n.Process != nil {
		if pk, ok := n.Process.Outputs[label]; ok {
			return pk, nil
		}
	}
	return 0, fmt.Errorf("%w: node %d has no output %q", ErrNoOutput, n.PK, label)
}

// Formula returns the chemical formula the node describes, if any.
func (n *Node) Formula() string {
	switch {
	case n.Structure != nil:
		return n.Structure.Formula()
	case n.Fleurinp != nil:
		return n.Fleurinp.Formula
	}
	return n.Label
}

func (n *Node) String() string {
	return fmt.Sprintf("%s<%d>", n.Type, n.PK)
}
