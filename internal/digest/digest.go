// Package digest computes content-addressed identities for operations and
// ledger states.
//
// Hashes are SHA-256 over a domain prefix, a 0x00 separator and the canonical
// JSON encoding of the value. The prefix carries a version so the algorithm
// can change without colliding with old identities.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/timebank/internal/ledger"
)

// Domain prefixes.
const (
	DomainOperation = "timebank/operation/v1"
	DomainState     = "timebank/state/v1"
)

// Canonical encodes v as compact JSON without HTML escaping and without the
// trailing newline json.Encoder appends. Struct fields keep declaration
// order and map keys are sorted, so equal values encode to equal bytes.
func Canonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// hashWithDomain computes SHA256(domain || 0x00 || data) as lowercase hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationID identifies an operation by its position in the log, its
// correlation token and its content. The same inputs give the same ID on
// every replay.
func OperationID(seq int64, correlation string, op ledger.Operation) (string, error) {
	canonical, err := Canonical(struct {
		Seq         int64            `json:"seq"`
		Correlation string           `json:"correlation"`
		Operation   ledger.Operation `json:"operation"`
	}{seq, correlation, op})
	if err != nil {
		return "", fmt.Errorf("OperationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}

// StateDigest fingerprints a ledger snapshot. Two replicas that applied the
// same log report the same digest.
func StateDigest(snap ledger.Snapshot) (string, error) {
	canonical, err := Canonical(snap)
	if err != nil {
		return "", fmt.Errorf("StateDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustStateDigest is like StateDigest but panics on error.
// Use only in tests.
func MustStateDigest(snap ledger.Snapshot) string {
	d, err := StateDigest(snap)
	if err != nil {
		panic(err)
	}
	return d
}
