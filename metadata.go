package elarasign

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// SchemaVersion is the metadata schema version written by this package.
const SchemaVersion = "3.0"

// ContentMetadata is the canonical provenance record whose serialized form
// is hashed into every signature as metaHash.
//
// Field order is fixed by the struct declaration, so Canonical output is
// stable for a given value. Optional fields are omitted when zero.
type ContentMetadata struct {
	Version         string `json:"version"`
	Generator       string `json:"generator"`
	Timestamp       string `json:"timestamp"` // ISO-8601
	UserFingerprint string `json:"userFingerprint"`
	KeyFingerprint  string `json:"keyFingerprint"`
	ContentType     string `json:"contentType"`
	ContentHash     string `json:"contentHash"`
	Model           string `json:"model"`
	PromptHash      string `json:"promptHash"`

	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

// Canonical returns the JSON form used for hashing.
func (m ContentMetadata) Canonical() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "marshal content metadata")
	}
	return string(b), nil
}

// MetaHash returns the full SHA-256 of the canonical JSON.
func (m ContentMetadata) MetaHash() ([32]byte, error) {
	s, err := m.Canonical()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256Full([]byte(s)), nil
}

// ParseContentMetadata decodes metadata previously produced by Canonical.
func ParseContentMetadata(s string) (ContentMetadata, error) {
	var m ContentMetadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return ContentMetadata{}, errors.Wrap(err, "parse content metadata")
	}
	return m, nil
}
