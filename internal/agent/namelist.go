package agent

import (
	"fmt"
	"strconv"
	"strings"

	"fleur-q/internal/node"
)

// bohr is one Bohr radius in Ångström.
const bohr = 0.52917721092

const defaultTitle = "A Fleur input generator calculation with fleurq"

var elements = strings.Fields(`
	H He Li Be B C N O F Ne Na Mg Al Si P S Cl Ar K Ca Sc Ti V Cr Mn Fe Co
	Ni Cu Zn Ga Ge As Se Br Kr Rb Sr Y Zr Nb Mo Tc Ru Rh Pd Ag Cd In Sn Sb
	Te I Xe Cs Ba La Ce Pr Nd Pm Sm Eu Gd Tb Dy Ho Er Tm Yb Lu Hf Ta W Re Os
	Ir Pt Au Hg Tl Pb Bi Po At Rn Fr Ra Ac Th Pa U Np Pu Am Cm Bk Cf Es Fm
	Md No Lr`)

func atomicNumber(symbol string) (int, error) {
	for i, s := range elements {
		if s == symbol {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("unknown element %q", symbol)
}

// InpgenInput renders the inpgen input file for a structure and its
// parameters dict. Positions are written cartesian in bohr.
func InpgenInput(s *node.Structure, params map[string]any) (string, error) {
	var b strings.Builder

	title := defaultTitle
	if t, ok := params["title"].(string); ok && t != "" {
		title = t
	}
	b.WriteString(title + "\n")

	input := map[string]any{"cartesian": true}
	if s.PBC[0] && s.PBC[1] && !s.PBC[2] {
		input["film"] = true
	}
	if extra, ok := params["input"].(map[string]any); ok {
		for k, v := range extra {
			input[k] = v
		}
	}
	if err := writeNamelist(&b, "input", input); err != nil {
		return "", err
	}

	for _, row := range s.Cell {
		fmt.Fprintf(&b, "%16.10f%16.10f%16.10f\n", row[0]/bohr, row[1]/bohr, row[2]/bohr)
	}
	fmt.Fprintf(&b, "%16.10f\n", 1.0)
	fmt.Fprintf(&b, "%16.10f%16.10f%16.10f\n\n", 1.0, 1.0, 1.0)

	fmt.Fprintf(&b, "%6d\n", len(s.Sites))
	for _, site := range s.Sites {
		z, err := atomicNumber(site.Symbol)
		if err != nil {
			return "", err
		}
		p := site.Position
		fmt.Fprintf(&b, "%4d%16.10f%16.10f%16.10f\n", z, p[0]/bohr, p[1]/bohr, p[2]/bohr)
	}

	for _, name := range sortedKeys(params) {
		if name == "title" || name == "input" {
			continue
		}
		values, ok := params[name].(map[string]any)
		if !ok {
			return "", fmt.Errorf("namelist %s must be a mapping, got %T", name, params[name])
		}
		label := name
		if strings.HasPrefix(name, "atom") {
			label = "atom"
		}
		if err := writeNamelists(&b, label, values); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// writeNamelists writes values as one namelist, or as one namelist per entry
// when every entry is itself a mapping (atom: {1: {...}, 2: {...}}).
func writeNamelists(b *strings.Builder, name string, values map[string]any) error {
	nested := len(values) > 0
	for _, v := range values {
		if _, ok := v.(map[string]any); !ok {
			nested = false
			break
		}
	}
	if !nested {
		return writeNamelist(b, name, values)
	}
	for _, key := range sortedKeys(values) {
		if err := writeNamelist(b, name, values[key].(map[string]any)); err != nil {
			return fmt.Errorf("%s %s: %w", name, key, err)
		}
	}
	return nil
}

func writeNamelist(b *strings.Builder, name string, values map[string]any) error {
	b.WriteString("&" + name)
	for _, key := range sortedKeys(values) {
		v, err := namelistValue(values[key])
		if err != nil {
			return fmt.Errorf("namelist %s key %s: %w", name, key, err)
		}
		b.WriteString(" " + key + "=" + v)
	}
	b.WriteString(" /\n")
	return nil
}

func namelistValue(v any) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return "t", nil
		}
		return "f", nil
	case string:
		return strconv.Quote(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			s, err := namelistValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, " "), nil
	}
	return "", fmt.Errorf("unsupported value %T", v)
}
