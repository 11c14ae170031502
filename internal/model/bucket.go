package model

import (
	"bytes"
	"encoding/json"
)

// Bucket is the parsed form of a .vars.json file: leaf name -> record.
type Bucket map[string]*Record

// MarshalBucket serializes a bucket with 4-space indent and a trailing
// newline. Preserving this formatting exactly is load-bearing for the
// external sync engine's change detection (spec.md §9).
func MarshalBucket(b Bucket) ([]byte, error) {
	if b == nil {
		b = Bucket{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBucket parses a bucket file's bytes. Empty input parses as an
// empty bucket, matching lockUpdate's "read current bytes (empty if
// missing)" contract in spec.md §4.1.
func UnmarshalBucket(data []byte) (Bucket, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Bucket{}, nil
	}
	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b == nil {
		b = Bucket{}
	}
	return b, nil
}

// HistoryEntry is the payload of a .history/.../NNNN.json file.
type HistoryEntry struct {
	ID       Record `json:"-"`
	MTime    uint32 `json:"-"`
	Variable *Record
}

// historyWire is the literal on-disk shape: {id, mtime, variable}.
type historyWire struct {
	ID       string          `json:"id"`
	MTime    uint32          `json:"mtime"`
	Variable json.RawMessage `json:"variable"`
}

// MarshalHistoryEntry encodes a fresh history id, the write's mtime and the
// post-write record, per spec.md §3 "History".
func MarshalHistoryEntry(historyID string, mtime uint32, variable *Record) ([]byte, error) {
	varJSON, err := json.Marshal(variable)
	if err != nil {
		return nil, err
	}
	w := historyWire{ID: historyID, MTime: mtime, Variable: varJSON}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FolderMeta is the content of a folder's .bhdir.json file.
type FolderMeta struct {
	Directory FolderDirective `json:"directory"`
}

// FolderDirective carries the schema format and, while a format-1→2
// conversion or similar is in progress, the session id of the upgrader.
type FolderDirective struct {
	Format    int    `json:"format"`
	Upgrading any    `json:"upgrading"` // false, or a session-id string
}

// UpgradingSessionID returns the upgrader's session id and true if this
// folder is currently marked as upgrading.
func (d FolderDirective) UpgradingSessionID() (string, bool) {
	s, ok := d.Upgrading.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

const (
	// FormatLegacy is the pre-id/mtime raw-value bucket schema.
	FormatLegacy = 1
	// FormatCurrent is the {id,ctime,mtime,value,...} record schema.
	FormatCurrent = 2
)
