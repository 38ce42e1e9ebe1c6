package provenance

import (
	"fmt"

	"fleur-q/internal/security"
	"fleur-q/pkg/digest"
)

// VerifyChain recomputes every payload hash, record hash, link and signature
// to detect tampering.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, r := range l.records {
		if r.Index != i {
			return fmt.Errorf("index mismatch: expected %d got %d", i, r.Index)
		}
		if digest.Bytes(r.Payload) != r.PayloadHash {
			return fmt.Errorf("payload hash mismatch at index %d", i)
		}
		h, err := r.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", i, err)
		}
		if h != r.Hash {
			return fmt.Errorf("hash mismatch at index %d", i)
		}
		if i > 0 && r.PrevHash != l.records[i-1].Hash {
			return fmt.Errorf("prev hash mismatch at index %d", i)
		}
		ok, err := security.VerifyHex(r.PubKey, []byte(r.Hash), r.Signature)
		if err != nil {
			return fmt.Errorf("signature at index %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("bad signature at index %d", i)
		}
	}
	return nil
}
