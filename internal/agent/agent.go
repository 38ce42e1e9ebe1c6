// Package agent executes queued jobs for the engine daemon. An agent polls
// for the next job, loads its inputs, runs the code through an Executor and
// reports the outcome back to the daemon.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"fleur-q/internal/calc"
	"fleur-q/internal/engine"
	"fleur-q/internal/node"
	"fleur-q/pkg/digest"
)

// Exit statuses reported when the job never produced one of its own.
const (
	ExitStaging    = 300
	ExitStartup    = 301
	ExitNoInputXML = 306
	ExitWallclock  = 400
)

// Queue is the daemon as an agent sees it. Both the HTTP client and an
// in-process engine service satisfy it.
type Queue interface {
	NextJob(ctx context.Context, agentID string) (*engine.Job, error)
	Complete(ctx context.Context, pk int64, res engine.Result) (*node.Node, error)
	LoadNode(ctx context.Context, ref node.Ref) (*node.Node, error)
	File(ctx context.Context, ref node.Ref, name string) ([]byte, error)
}

// Task is a job with its inputs loaded.
type Task struct {
	Job    *engine.Job
	Kind   *calc.Kind
	Code   *node.Node
	Inputs map[string]*node.Node
	// Files are the repository files of fleurinp inputs, staged into the
	// working directory before the run.
	Files map[string][]byte
}

// Subject returns the node the job is about.
func (t *Task) Subject() *node.Node {
	return t.Inputs[t.Kind.Subject]
}

// Executor runs one task. A returned error means the run could not start;
// a run that started and failed is reported through Result.ExitStatus.
type Executor interface {
	Execute(ctx context.Context, t *Task) (engine.Result, error)
}

type Agent struct {
	ID       string
	Queue    Queue
	Executor Executor
	// Interval is the pause between polls of an empty queue.
	Interval time.Duration
	Logger   *log.Logger
}

func New(id string, q Queue, exec Executor, logger *log.Logger) *Agent {
	return &Agent{ID: id, Queue: q, Executor: exec, Interval: 5 * time.Second, Logger: logger}
}

// Step takes at most one job, runs it and reports the result. It reports
// whether a job was taken.
func (a *Agent) Step(ctx context.Context) (bool, error) {
	job, err := a.Queue.NextJob(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("next job: %w", err)
	}
	if job == nil {
		return false, nil
	}
	logger := a.Logger.With("pk", job.PK, "process", job.Process)
	logger.Info("job received")

	res := a.execute(ctx, job, logger)
	res.AgentID = a.ID
	if xml, ok := res.Files["inp.xml"]; ok {
		logger.Debug("inp.xml collected", "sha256", digest.String(xml))
	}

	// A cancelled poll still owes the daemon the outcome of a job it took.
	proc, err := a.Queue.Complete(context.WithoutCancel(ctx), job.PK, res)
	if err != nil {
		return true, fmt.Errorf("report job %d: %w", job.PK, err)
	}
	if res.ExitStatus != 0 {
		logger.Warn("job failed", "exit_status", res.ExitStatus, "message", res.Message)
	} else {
		logger.Info("job reported", "state", proc.Process.State, "outputs", len(proc.Process.Outputs))
	}
	return true, nil
}

func (a *Agent) execute(ctx context.Context, job *engine.Job, logger *log.Logger) engine.Result {
	task, err := a.prepare(ctx, job)
	if err != nil {
		return engine.Result{ExitStatus: ExitStaging, Message: err.Error()}
	}
	start := time.Now()
	res, err := a.Executor.Execute(ctx, task)
	if err != nil {
		return engine.Result{ExitStatus: ExitStartup, Message: err.Error()}
	}
	logger.Debug("job executed", "duration", time.Since(start), "files", len(res.Files))
	return res
}

// prepare loads every input of job and the repository files of its
// fleurinp inputs.
func (a *Agent) prepare(ctx context.Context, job *engine.Job) (*Task, error) {
	kind, err := calc.Lookup(job.Process)
	if err != nil {
		return nil, err
	}
	t := &Task{
		Job:    job,
		Kind:   kind,
		Inputs: make(map[string]*node.Node, len(job.Inputs)),
		Files:  make(map[string][]byte),
	}
	for _, port := range sortedKeys(job.Inputs) {
		n, err := a.Queue.LoadNode(ctx, node.PKRef(job.Inputs[port]))
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", port, err)
		}
		t.Inputs[port] = n
		if p, ok := kind.Port(port); ok && p.Kind == calc.PortNode && p.NodeType == node.TypeCode {
			t.Code = n
		}
		if n.Fleurinp == nil {
			continue
		}
		for _, name := range sortedKeys(n.Fleurinp.Files) {
			data, err := a.Queue.File(ctx, node.PKRef(n.PK), name)
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", port, err)
			}
			t.Files[name] = data
		}
	}
	if t.Code == nil || t.Code.Code == nil {
		return nil, fmt.Errorf("job %d has no code input", job.PK)
	}
	return t, nil
}

// Run takes jobs until ctx is done. With once set it returns as soon as the
// queue is found empty, and on the first error. It returns the number of
// jobs taken.
func (a *Agent) Run(ctx context.Context, once bool) (int, error) {
	done := 0
	for {
		took, err := a.Step(ctx)
		if took {
			done++
		}
		switch {
		case err != nil && (once || errors.Is(err, context.Canceled)):
			return done, err
		case err != nil:
			a.Logger.Warn("poll failed", "err", err)
		case took:
			continue
		case once:
			return done, nil
		}

		select {
		case <-ctx.Done():
			return done, nil
		case <-time.After(a.Interval):
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
