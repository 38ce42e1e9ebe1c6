// Package submit turns a plan into submissions: it resolves every referenced
// node up front, assembles one input bundle per job and hands each to the
// engine, printing one acknowledgement line per accepted job.
package submit

import (
	"context"
	"fmt"
	"io"
	"sort"

	"fleur-q/internal/calc"
	"fleur-q/internal/logging"
	"fleur-q/internal/node"
	"fleur-q/internal/plan"
)

// Engine is the workflow engine as a submitter sees it.
type Engine interface {
	LoadNode(ctx context.Context, ref node.Ref) (*node.Node, error)
	Submit(ctx context.Context, b *calc.Bundle) (node.JobHandle, error)
}

// ItemError names the plan item whose submission failed.
type ItemError struct {
	Index int
	Ref   node.Ref
	Err   error
}

func (e *ItemError) Error() string {
	if e.Ref == (node.Ref{}) {
		return fmt.Sprintf("submission %d: %v", e.Index+1, e.Err)
	}
	return fmt.Sprintf("submission %d (%s): %v", e.Index+1, e.Ref, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// SubmitOne builds the bundle and submits it. Nothing reaches the engine
// unless every required port has been assigned.
func SubmitOne(ctx context.Context, engine Engine, b *calc.Builder) (node.JobHandle, error) {
	bundle, err := b.Build()
	if err != nil {
		return node.JobHandle{}, err
	}
	return engine.Submit(ctx, bundle)
}

// Runner executes plans against one engine.
type Runner struct {
	Engine Engine
	Out    io.Writer
}

func NewRunner(engine Engine, out io.Writer) *Runner {
	return &Runner{Engine: engine, Out: out}
}

// Run submits every job of p in order and returns their handles. It stops at
// the first failure; handles and lines for jobs already submitted are kept.
func (r *Runner) Run(ctx context.Context, p *plan.Plan) ([]node.JobHandle, error) {
	logger := logging.FromContext(ctx)

	kind, err := calc.Lookup(p.Process)
	if err != nil {
		return nil, err
	}

	// Resolve every handle before any bundle is built. AllRefs lists the
	// shared ports in sorted order, then the iteration.
	ports := sortedKeys(p.Refs)
	resolved, err := NewResolver(r.Engine).ResolveAll(ctx, p.AllRefs())
	if err != nil {
		return nil, err
	}
	shared, items := resolved[:len(ports)], resolved[len(ports):]

	optionsPort := kind.OptionsPort()
	dictPorts := sortedKeys(p.Dicts)
	handles := make([]node.JobHandle, 0, p.Jobs())
	for i := 0; i < p.Jobs(); i++ {
		var ref node.Ref
		if p.Each != nil {
			ref = p.Each.Refs[i]
		}
		fail := func(err error) ([]node.JobHandle, error) {
			return handles, &ItemError{Index: i, Ref: ref, Err: err}
		}

		b := kind.Builder()
		for j, port := range ports {
			if err := b.SetNode(port, shared[j]); err != nil {
				return fail(err)
			}
		}
		for _, port := range dictPorts {
			if err := b.SetDict(port, p.Dicts[port]); err != nil {
				return fail(err)
			}
		}
		// An unbound options port is left for Build to report.
		if optionsPort != "" && p.Options != nil {
			if err := b.SetOptions(optionsPort, *p.Options); err != nil {
				return fail(err)
			}
		}
		formula := ""
		if p.Each != nil {
			if err := b.SetNode(p.Each.Port, items[i]); err != nil {
				return fail(err)
			}
			formula = items[i].Formula()
		}

		h, err := SubmitOne(ctx, r.Engine, b)
		if err != nil {
			return fail(err)
		}
		handles = append(handles, h)
		logger.Info("submitted", "process", kind.Name, "pk", h.PK, "item", i+1, "of", p.Jobs())
		if _, err := fmt.Fprintln(r.Out, kind.Acknowledge(h.PK, formula)); err != nil {
			return handles, err
		}
	}
	return handles, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
