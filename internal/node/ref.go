package node

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const outputsSep = ".outputs."

var placeholderRe = regexp.MustCompile(`^(\?+|[xX]+)$`)

// Ref identifies a stored node by PK or UUID. When Output is set the ref
// points at the node linked under that label from the identified process,
// e.g. `21.outputs.fleurinp`.
type Ref struct {
	PK     int64  `json:"pk,omitempty" yaml:"pk"`
	UUID   string `json:"uuid,omitempty" yaml:"uuid"`
	Output string `json:"output,omitempty" yaml:"output"`
}

// PKRef is shorthand for a plain PK reference.
func PKRef(pk int64) Ref {
	return Ref{PK: pk}
}

// ParseRef accepts `<pk>`, `<uuid>`, and either followed by `.outputs.<label>`.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	var ref Ref
	if base, label, ok := strings.Cut(s, outputsSep); ok {
		if label == "" {
			return Ref{}, fmt.Errorf("ref %q: empty output label", s)
		}
		ref.Output = label
		s = base
	}
	if s == "" {
		return Ref{}, fmt.Errorf("empty ref")
	}
	if placeholderRe.MatchString(s) {
		return Ref{}, fmt.Errorf("%w %q", ErrPlaceholder, s)
	}
	if pk, err := strconv.ParseInt(s, 10, 64); err == nil {
		ref.PK = pk
	} else {
		ref.UUID = s
	}
	return ref, ref.Validate()
}

func (r Ref) Validate() error {
	switch {
	case r.PK < 0:
		return fmt.Errorf("ref pk must be positive, got %d", r.PK)
	case r.PK == 0 && r.UUID == "":
		return fmt.Errorf("ref needs a pk or uuid")
	case r.PK != 0 && r.UUID != "":
		return fmt.Errorf("ref sets both pk %d and uuid %s", r.PK, r.UUID)
	case placeholderRe.MatchString(r.UUID):
		return fmt.Errorf("%w %q", ErrPlaceholder, r.UUID)
	}
	return nil
}

// Base drops the output label.
func (r Ref) Base() Ref {
	return Ref{PK: r.PK, UUID: r.UUID}
}

func (r Ref) String() string {
	s := r.UUID
	if r.PK != 0 {
		s = strconv.FormatInt(r.PK, 10)
	}
	if r.Output != "" {
		s += outputsSep + r.Output
	}
	return s
}

// UnmarshalYAML accepts a bare PK, a ref string, or a {pk|uuid, output} mapping.
func (r *Ref) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		ref, err := ParseRef(value.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*r = ref
		return nil
	case yaml.MappingNode:
		var ref Ref
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			if val.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: ref field %q must be a scalar", val.Line, key.Value)
			}
			switch key.Value {
			case "pk":
				if placeholderRe.MatchString(val.Value) {
					return fmt.Errorf("line %d: %w %q", val.Line, ErrPlaceholder, val.Value)
				}
				pk, err := strconv.ParseInt(val.Value, 10, 64)
				if err != nil {
					return fmt.Errorf("line %d: pk %q is not an integer", val.Line, val.Value)
				}
				ref.PK = pk
			case "uuid":
				ref.UUID = val.Value
			case "output":
				ref.Output = val.Value
			default:
				return fmt.Errorf("line %d: unknown ref field %q", key.Line, key.Value)
			}
		}
		if err := ref.Validate(); err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		*r = ref
		return nil
	}
	return fmt.Errorf("line %d: ref must be a pk, uuid or mapping", value.Line)
}
