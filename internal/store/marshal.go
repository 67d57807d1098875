package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/timebank/internal/digest"
	"github.com/roach88/timebank/internal/ledger"
)

// marshalOperation converts an operation to canonical JSON TEXT for storage.
func marshalOperation(op ledger.Operation) (string, error) {
	op.At = op.At.UTC()
	data, err := digest.Canonical(op)
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}
	return string(data), nil
}

func unmarshalOperation(data string) (ledger.Operation, error) {
	var op ledger.Operation
	if err := json.Unmarshal([]byte(data), &op); err != nil {
		return ledger.Operation{}, fmt.Errorf("unmarshal operation: %w", err)
	}
	return op, nil
}

// marshalFields converts event fields to canonical JSON TEXT. Keys are sorted.
func marshalFields(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	data, err := digest.Canonical(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

func unmarshalFields(data string) (map[string]string, error) {
	fields := map[string]string{}
	if data == "" || data == "{}" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return fields, nil
}

func marshalSnapshot(snap ledger.Snapshot) (string, error) {
	data, err := digest.Canonical(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

func unmarshalSnapshot(data string) (ledger.Snapshot, error) {
	var snap ledger.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
