package calc

import (
	"fmt"
	"sort"
	"strings"
)

var inpgenNamelists = map[string]bool{
	"title":   true,
	"input":   true,
	"lattice": true,
	"comp":    true,
	"exco":    true,
	"film":    true,
	"kpt":     true,
	"soc":     true,
	"qss":     true,
}

// CheckInpgenParameters validates a parameters dict against the inpgen
// namelists. `atom` may carry a numeric suffix (`atom1`, `atom2`).
func CheckInpgenParameters(d map[string]any) error {
	var unknown []string
	for key, val := range d {
		if !inpgenNamelists[key] && !strings.HasPrefix(key, "atom") {
			unknown = append(unknown, key)
			continue
		}
		if key == "title" {
			if _, ok := val.(string); !ok {
				return fmt.Errorf("namelist title must be a string, got %T", val)
			}
			continue
		}
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("namelist %s must be a mapping, got %T", key, val)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown inpgen namelists: %s", strings.Join(unknown, ", "))
	}
	return nil
}

var ssdispKeys = map[string]bool{
	"beta":              true,
	"q_vectors":         true,
	"ref_qss":           true,
	"prop_dir":          true,
	"inpxml_changes":    true,
	"fleur_runmax":      true,
	"density_converged": true,
	"itmax_per_run":     true,
	"mode":              true,
}

// CheckSSDispParameters validates the workchain-level parameters of the
// spin-spiral dispersion workchain.
func CheckSSDispParameters(d map[string]any) error {
	var unknown []string
	for key := range d {
		if !ssdispKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown wf_parameters keys: %s", strings.Join(unknown, ", "))
	}
	if q, ok := d["q_vectors"]; ok {
		if _, ok := q.([]any); !ok {
			return fmt.Errorf("q_vectors must be a list, got %T", q)
		}
	}
	return nil
}

// normalize copies a decoded record so every mapping is keyed by string.
// YAML decodes mappings with non-string keys (`atom: {1: ...}`) as
// map[any]any, which cannot be encoded as JSON. Keys are rendered with
// fmt.Sprint; two keys rendering alike are an error.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			key := fmt.Sprint(k)
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("duplicate key %q", key)
			}
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}
	return v, nil
}
