package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"fleur-q/internal/node"
	"fleur-q/pkg/digest"
)

// Record is one signed, hash-linked snapshot of a node.
type Record struct {
	Index       int             `json:"index"`
	Timestamp   string          `json:"timestamp"`
	PK          int64           `json:"pk"`
	UUID        string          `json:"uuid"`
	Type        node.Type       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payloadHash"`
	PrevHash    string          `json:"prevHash"`
	Hash        string          `json:"hash"`
	Signature   string          `json:"signature"`
	PubKey      string          `json:"pubKey"`
}

// canonicalData returns the JSON bytes the record hash covers.
// Hash, Signature and PubKey are excluded.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Index       int       `json:"index"`
		Timestamp   string    `json:"timestamp"`
		PK          int64     `json:"pk"`
		UUID        string    `json:"uuid"`
		Type        node.Type `json:"type"`
		PayloadHash string    `json:"payloadHash"`
		PrevHash    string    `json:"prevHash"`
	}{
		Index:       r.Index,
		Timestamp:   r.Timestamp,
		PK:          r.PK,
		UUID:        r.UUID,
		Type:        r.Type,
		PayloadHash: r.PayloadHash,
		PrevHash:    r.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates sha256 over canonicalData.
func (r *Record) ComputeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Node decodes the snapshot.
func (r *Record) Node() (*node.Node, error) {
	var n node.Node
	if err := json.Unmarshal(r.Payload, &n); err != nil {
		return nil, fmt.Errorf("decode record %d payload: %w", r.Index, err)
	}
	return &n, nil
}

// NewRecord snapshots n and computes the record hash (no signature yet).
func NewRecord(index int, n *node.Node, prevHash string) (*Record, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode node %d: %w", n.PK, err)
	}
	rec := &Record{
		Index:       index,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		PK:          n.PK,
		UUID:        n.UUID,
		Type:        n.Type,
		Payload:     payload,
		PayloadHash: digest.Bytes(payload),
		PrevHash:    prevHash,
	}
	h, err := rec.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}
	rec.Hash = h
	return rec, nil
}
