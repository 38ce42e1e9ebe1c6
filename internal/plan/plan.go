// Package plan reads submission plans: declarative descriptions of which
// process to submit, which stored nodes feed its ports, and which parameter
// and resource records to build.
package plan

import (
	"errors"
	"fmt"

	"fleur-q/internal/node"
)

// Plan is one submission script.
type Plan struct {
	Description string                    `yaml:"description"`
	Process     string                    `yaml:"process"`
	Refs        map[string]node.Ref       `yaml:"refs"`
	Dicts       map[string]map[string]any `yaml:"dicts"`
	// Options is nil when the plan leaves the options port unbound.
	Options *node.Options `yaml:"options"`
	// Each repeats the submission once per ref, bound to Port, in list order.
	Each *Each `yaml:"each"`
}

// Each is the ordered iteration of a plan over one port.
type Each struct {
	Port string     `yaml:"port"`
	Refs []node.Ref `yaml:"refs"`
}

// Jobs returns how many submissions the plan makes.
func (p *Plan) Jobs() int {
	if p.Each == nil {
		return 1
	}
	return len(p.Each.Refs)
}

// AllRefs returns every ref the plan names, shared ports first then the
// iteration in order.
func (p *Plan) AllRefs() []node.Ref {
	refs := make([]node.Ref, 0, len(p.Refs)+p.Jobs())
	for _, port := range sortedKeys(p.Refs) {
		refs = append(refs, p.Refs[port])
	}
	if p.Each != nil {
		refs = append(refs, p.Each.Refs...)
	}
	return refs
}

func (p *Plan) Validate() error {
	if p.Process == "" {
		return errors.New("plan: process is required")
	}
	for port := range p.Refs {
		if _, dup := p.Dicts[port]; dup {
			return fmt.Errorf("plan: port %q bound both as ref and dict", port)
		}
	}
	if p.Each != nil {
		if p.Each.Port == "" {
			return errors.New("plan: each.port is required")
		}
		if len(p.Each.Refs) == 0 {
			return fmt.Errorf("plan: each.refs for port %q is empty", p.Each.Port)
		}
		if _, dup := p.Refs[p.Each.Port]; dup {
			return fmt.Errorf("plan: port %q bound both in refs and each", p.Each.Port)
		}
		if _, dup := p.Dicts[p.Each.Port]; dup {
			return fmt.Errorf("plan: port %q bound both in dicts and each", p.Each.Port)
		}
	}
	return nil
}
