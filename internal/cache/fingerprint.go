package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical re-encodes input with sorted object keys and no insignificant
// whitespace. Raw JSON is parsed first so byte-level formatting differences
// do not change the result.
func Canonical(input any) ([]byte, error) {
	var raw []byte
	switch v := input.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonicalize input: %w", err)
		}
		raw = encoded
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize input: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize input: %w", err)
	}
	return out, nil
}

// Fingerprint returns the hex SHA-256 of capability, a zero byte, and the
// canonical input.
func Fingerprint(capability string, input any) (string, error) {
	canonical, err := Canonical(input)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(capability))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
