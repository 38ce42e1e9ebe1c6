// Package provenance persists nodes in an append-only JSON-lines ledger.
// Every write is a new record holding a full node snapshot, hash-linked to
// its predecessor and signed by the daemon key; the newest record for a PK
// is the node's current state.
package provenance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"fleur-q/internal/node"
	"fleur-q/internal/security"
)

type Ledger struct {
	mu      sync.Mutex
	records []*Record
	latest  map[int64]int // pk -> index of newest record
	uuids   map[string]int64
	maxPK   int64
	path    string
}

// OpenLedger loads an existing ledger file or creates an empty one.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{
		records: make([]*Record, 0),
		latest:  make(map[int64]int),
		uuids:   make(map[string]int64),
		path:    path,
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(l.records), err)
		}
		l.index(&rec)
	}
	return l, nil
}

func (l *Ledger) index(rec *Record) {
	l.latest[rec.PK] = len(l.records)
	l.uuids[rec.UUID] = rec.PK
	if rec.PK > l.maxPK {
		l.maxPK = rec.PK
	}
	l.records = append(l.records, rec)
}

// Append snapshots n into a new signed record and persists it. n.PK and
// n.UUID must already be set; reusing a PK supersedes the earlier snapshot.
func (l *Ledger) Append(n *node.Node, keys security.KeyPair) (*Record, error) {
	if n.PK <= 0 || n.UUID == "" {
		return nil, fmt.Errorf("node needs pk and uuid before it is recorded")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if pk, ok := l.uuids[n.UUID]; ok && pk != n.PK {
		return nil, fmt.Errorf("uuid %s already belongs to pk %d", n.UUID, pk)
	}

	prev := ""
	if len(l.records) > 0 {
		prev = l.records[len(l.records)-1].Hash
	}
	rec, err := NewRecord(len(l.records), n, prev)
	if err != nil {
		return nil, err
	}
	if rec.Signature, err = keys.Sign([]byte(rec.Hash)); err != nil {
		return nil, err
	}
	rec.PubKey = keys.PublicHex()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return nil, fmt.Errorf("write ledger file: %w", err)
	}

	l.index(rec)
	return rec, nil
}

// Get returns a fresh copy of the current snapshot of pk.
func (l *Ledger) Get(pk int64) (*node.Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.latest[pk]
	if !ok {
		return nil, fmt.Errorf("%w: pk %d", node.ErrNotFound, pk)
	}
	return l.records[i].Node()
}

// GetByUUID returns a fresh copy of the current snapshot of uuid.
func (l *Ledger) GetByUUID(uuid string) (*node.Node, error) {
	l.mu.Lock()
	pk, ok := l.uuids[uuid]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: uuid %s", node.ErrNotFound, uuid)
	}
	return l.Get(pk)
}

// NextPK returns the PK the next new node should take.
func (l *Ledger) NextPK() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxPK + 1
}

// LastHash returns the hash of the newest record, or "" for an empty ledger.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return ""
	}
	return l.records[len(l.records)-1].Hash
}

// Records returns the records in append order. The slice is a copy; the
// records are shared.
func (l *Ledger) Records() []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

func (l *Ledger) Path() string { return l.path }
