package engine

import (
	"context"
	"fmt"

	"fleur-q/internal/node"
)

// Job is what an execution agent receives.
type Job struct {
	node.JobHandle
	Inputs  map[string]int64 `json:"inputs"`
	Options node.Options     `json:"options"`
}

// Result is what an execution agent reports for a job.
type Result struct {
	AgentID    string            `json:"agent_id"`
	ExitStatus int               `json:"exit_status"`
	Message    string            `json:"message,omitempty"`
	Files      map[string]string `json:"files,omitempty"`
}

// NextJob hands the oldest queued process to agentID and marks it running.
// It returns nil when the queue is empty.
func (s *Service) NextJob(ctx context.Context, agentID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 {
		pk := s.queue[0]
		s.queue = s.queue[1:]

		proc, err := s.ledger.Get(pk)
		if err != nil {
			return nil, err
		}
		if proc.Process.State != node.StateCreated {
			continue
		}
		proc.Process.State = node.StateRunning
		proc.Process.AgentID = agentID
		if err := s.store(proc); err != nil {
			return nil, err
		}
		s.logger.Info("job dispatched", "pk", pk, "agent", agentID)
		return &Job{
			JobHandle: handleOf(proc),
			Inputs:    proc.Process.Inputs,
			Options:   proc.Process.Options,
		}, nil
	}
	return nil, nil
}

// Complete records the outcome of a running process. Reported files are
// kept in the repository; a finished inpgen job gains a fleurinp output
// carrying the formula of its input structure.
func (s *Service) Complete(ctx context.Context, pk int64, res Result) (*node.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proc, err := s.ledger.Get(pk)
	if err != nil {
		return nil, err
	}
	if !proc.Type.IsProcess() {
		return nil, fmt.Errorf("%w: node %d is not a process", ErrInvalidState, pk)
	}
	if proc.Process.State.Terminal() {
		return nil, fmt.Errorf("%w: process %d already %s", ErrInvalidState, pk, proc.Process.State)
	}
	if proc.Process.State != node.StateRunning {
		return nil, fmt.Errorf("%w: process %d is %s, not running", ErrInvalidState, pk, proc.Process.State)
	}
	if res.AgentID != "" && proc.Process.AgentID != "" && res.AgentID != proc.Process.AgentID {
		return nil, fmt.Errorf("%w: process %d is owned by agent %s", ErrInvalidState, pk, proc.Process.AgentID)
	}

	proc.Process.ExitStatus = res.ExitStatus
	proc.Process.ExitMsg = res.Message
	if res.ExitStatus != 0 {
		proc.Process.State = node.StateExcepted
		if err := s.store(proc); err != nil {
			return nil, err
		}
		s.logger.Warn("process excepted", "pk", pk, "exit_status", res.ExitStatus, "message", res.Message)
		return proc, nil
	}

	if proc.Process.Kind == "fleur.inpgen" {
		fleurinp, err := s.fleurinpOutput(proc, res.Files)
		if err != nil {
			return nil, err
		}
		if proc.Process.Outputs == nil {
			proc.Process.Outputs = make(map[string]int64)
		}
		proc.Process.Outputs["fleurinp"] = fleurinp.PK
	} else {
		for _, name := range sortedKeys(res.Files) {
			if _, err := s.repo.Save(proc.UUID, name, []byte(res.Files[name])); err != nil {
				return nil, fmt.Errorf("save %s: %w", name, err)
			}
		}
	}

	proc.Process.State = node.StateFinished
	if err := s.store(proc); err != nil {
		return nil, err
	}
	s.logger.Info("process finished", "pk", pk, "outputs", len(proc.Process.Outputs))
	return proc, nil
}

// fleurinpOutput stores the generated input files as a new fleurinp node.
// Callers hold s.mu.
func (s *Service) fleurinpOutput(proc *node.Node, files map[string]string) (*node.Node, error) {
	if _, ok := files["inp.xml"]; !ok {
		return nil, fmt.Errorf("inpgen result for process %d carries no inp.xml", proc.PK)
	}
	fleurinp := &node.Node{
		Type:     node.TypeFleurinp,
		Label:    "fleurinp",
		Fleurinp: &node.Fleurinp{Files: make(map[string]string, len(files))},
	}
	if pk, ok := proc.Process.Inputs["structure"]; ok {
		structure, err := s.ledger.Get(pk)
		if err != nil {
			return nil, err
		}
		fleurinp.Fleurinp.Structure = pk
		fleurinp.Fleurinp.Formula = structure.Formula()
	}
	// Identity first so the repository folder can be named after the UUID.
	if err := s.store(fleurinp); err != nil {
		return nil, err
	}
	for _, name := range sortedKeys(files) {
		sum, err := s.repo.Save(fleurinp.UUID, name, []byte(files[name]))
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
		fleurinp.Fleurinp.Files[name] = sum
	}
	if err := s.store(fleurinp); err != nil {
		return nil, err
	}
	return fleurinp, nil
}
