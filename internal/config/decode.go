package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decode parses data as YAML or JSON (chosen by the path extension).
// Unknown keys and trailing documents are errors.
func Decode(path string, data []byte) (*Config, error) {
	raw, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	cfg := new(Config)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case errors.Is(err, io.EOF):
		return cfg, nil
	case err == nil:
		return nil, fmt.Errorf("decode %s config: trailing data", format)
	default:
		return nil, fmt.Errorf("decode %s config: %w", format, err)
	}
}

type fingerprint [sha256.Size]byte

// fingerprintOf identifies a decoded config; formatting-only edits of the
// file produce the same value.
func fingerprintOf(cfg *Config) (fingerprint, bool) {
	if cfg == nil {
		return fingerprint{}, false
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return fingerprint{}, false
	}
	return sha256.Sum256(b), true
}
