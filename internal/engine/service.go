// Package engine is the development stand-in for the workflow engine: it
// resolves nodes by identifier, accepts submissions, queues them for
// execution agents and records what the agents report back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"fleur-q/internal/calc"
	"fleur-q/internal/node"
	"fleur-q/internal/provenance"
	"fleur-q/internal/security"
	"fleur-q/internal/storage"
)

// ErrInvalidState is returned when a process cannot take the requested transition.
var ErrInvalidState = errors.New("invalid process state")

// Service owns the ledger, the file repository and the job queue.
type Service struct {
	mu     sync.Mutex
	ledger *provenance.Ledger
	repo   *storage.Repository
	keys   security.KeyPair
	queue  []int64
	logger *log.Logger
	now    func() time.Time
}

// New builds a service and re-queues every process still in state created.
func New(ledger *provenance.Ledger, repo *storage.Repository, keys security.KeyPair, logger *log.Logger) (*Service, error) {
	s := &Service{
		ledger: ledger,
		repo:   repo,
		keys:   keys,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	seen := make(map[int64]bool)
	for _, rec := range ledger.Records() {
		if !rec.Type.IsProcess() || seen[rec.PK] {
			continue
		}
		seen[rec.PK] = true
		n, err := ledger.Get(rec.PK)
		if err != nil {
			return nil, err
		}
		if n.Process.State == node.StateCreated {
			s.queue = append(s.queue, n.PK)
		}
	}
	sort.Slice(s.queue, func(i, j int) bool { return s.queue[i] < s.queue[j] })
	logger.Debug("ledger opened", "path", ledger.Path(), "records", ledger.Len())
	if len(s.queue) > 0 {
		logger.Info("re-queued pending processes", "count", len(s.queue))
	}
	return s, nil
}

// store assigns identity to new nodes and appends a snapshot. Callers hold s.mu.
func (s *Service) store(n *node.Node) error {
	now := s.now()
	if n.PK == 0 {
		n.PK = s.ledger.NextPK()
		n.UUID = uuid.NewString()
		n.Ctime = now
	}
	n.Mtime = now
	if err := n.Validate(); err != nil {
		return err
	}
	_, err := s.ledger.Append(n, s.keys)
	return err
}

// CreateNode stores a new data node and returns it with PK and UUID set.
// Process nodes are only created through submission.
func (s *Service) CreateNode(ctx context.Context, n *node.Node) (*node.Node, error) {
	if n == nil {
		return nil, errors.New("nil node")
	}
	if n.Type.IsProcess() {
		return nil, fmt.Errorf("%s nodes are created by submission", n.Type)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	created := *n
	created.PK, created.UUID = 0, ""

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store(&created); err != nil {
		return nil, err
	}
	s.logger.Info("node stored", "pk", created.PK, "type", created.Type, "label", created.Label)
	return &created, nil
}

// LoadNode resolves ref, following an output link when ref names one.
func (s *Service) LoadNode(ctx context.Context, ref node.Ref) (*node.Node, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	n, err := s.lookup(ref.Base())
	if err != nil || ref.Output == "" {
		return n, err
	}
	pk, err := n.Output(ref.Output)
	if err != nil {
		return nil, err
	}
	return s.ledger.Get(pk)
}

func (s *Service) lookup(ref node.Ref) (*node.Node, error) {
	if ref.PK != 0 {
		return s.ledger.Get(ref.PK)
	}
	return s.ledger.GetByUUID(ref.UUID)
}

// Files lists the repository files kept for the node behind ref.
func (s *Service) Files(ctx context.Context, ref node.Ref) ([]string, error) {
	n, err := s.LoadNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	names, err := s.repo.List(n.UUID)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// File returns one repository file of the node behind ref.
func (s *Service) File(ctx context.Context, ref node.Ref, name string) ([]byte, error) {
	n, err := s.LoadNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	data, err := s.repo.Open(n.UUID, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: node %d has no file %q", node.ErrNotFound, n.PK, name)
	}
	return data, err
}

// Process returns the process node with the given PK.
func (s *Service) Process(ctx context.Context, pk int64) (*node.Node, error) {
	n, err := s.ledger.Get(pk)
	if err != nil {
		return nil, err
	}
	if !n.Type.IsProcess() {
		return nil, fmt.Errorf("%w: node %d is a %s, not a process", node.ErrNotFound, pk, n.Type)
	}
	return n, nil
}

// Submit records a bundle assembled by an in-process caller.
func (s *Service) Submit(ctx context.Context, b *calc.Bundle) (node.JobHandle, error) {
	return s.SubmitRequest(ctx, b.Request())
}

// SubmitRequest re-validates req through the kind's builder, stores its
// parameter records as dict nodes, records the process in state created and
// queues it. It returns as soon as the job is queued.
func (s *Service) SubmitRequest(ctx context.Context, req calc.SubmitRequest) (node.JobHandle, error) {
	builder, err := calc.NewBuilder(req.Process)
	if err != nil {
		return node.JobHandle{}, err
	}
	kind := builder.Kind()
	for port, pk := range req.Inputs {
		n, err := s.ledger.Get(pk)
		if err != nil {
			return node.JobHandle{}, fmt.Errorf("input %s: %w", port, err)
		}
		if err := builder.SetNode(port, n); err != nil {
			return node.JobHandle{}, err
		}
	}
	for port, d := range req.Dicts {
		if err := builder.SetDict(port, d); err != nil {
			return node.JobHandle{}, err
		}
	}
	for port, o := range req.Options {
		if err := builder.SetOptions(port, o); err != nil {
			return node.JobHandle{}, err
		}
	}
	bundle, err := builder.Build()
	if err != nil {
		return node.JobHandle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inputs := make(map[string]int64, len(bundle.Nodes)+len(bundle.Dicts))
	for port, n := range bundle.Nodes {
		inputs[port] = n.PK
	}
	for _, port := range sortedKeys(bundle.Dicts) {
		dict := &node.Node{Type: node.TypeDict, Label: port, Dict: bundle.Dicts[port]}
		if err := s.store(dict); err != nil {
			return node.JobHandle{}, fmt.Errorf("store %s: %w", port, err)
		}
		inputs[port] = dict.PK
	}
	var options node.Options
	for _, o := range bundle.Options {
		options = o
	}

	proc := &node.Node{
		Type:  kind.NodeType,
		Label: kind.Class,
		Process: &node.Process{
			Kind:    kind.Name,
			State:   node.StateCreated,
			Inputs:  inputs,
			Options: options,
		},
	}
	if subject := bundle.Subject(); subject != nil {
		proc.Description = subject.Formula()
	}
	if err := s.store(proc); err != nil {
		return node.JobHandle{}, err
	}
	s.queue = append(s.queue, proc.PK)
	s.logger.Info("process submitted", "pk", proc.PK, "kind", kind.Name, "queued", len(s.queue))

	return handleOf(proc), nil
}

func handleOf(n *node.Node) node.JobHandle {
	return node.JobHandle{PK: n.PK, UUID: n.UUID, Process: n.Process.Kind, State: n.Process.State}
}

// Pending returns the number of queued processes.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Verify checks the ledger chain.
func (s *Service) Verify() error {
	return s.ledger.VerifyChain()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
