// Package model defines the on-disk shapes bhdir serializes: variable
// records inside bucket files, history entries, folder metadata and index
// entries.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// protected lists the attribute names that can never be set or deleted via
// the attribute API; they are only ever written by Directory itself.
var protected = map[string]bool{
	"id":    true,
	"ctime": true,
	"mtime": true,
	"value": true,
}

// IsProtected reports whether name is a protected attribute.
func IsProtected(name string) bool {
	return protected[name]
}

// Record is a single variable: id/ctime/mtime plus a JSON value and any
// number of free-form attributes, all flattened into one JSON object on the
// wire, per spec.md §3.
type Record struct {
	ID    uuid.UUID       `json:"-"`
	CTime uint32          `json:"-"`
	MTime uint32          `json:"-"`
	Value json.RawMessage `json:"-"`
	Attrs map[string]json.RawMessage `json:"-"`
}

// Clone returns a deep-enough copy of r suitable for optimistic cache writes
// ahead of the disk write (spec.md §4.2 step 3).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := &Record{
		ID:    r.ID,
		CTime: r.CTime,
		MTime: r.MTime,
		Value: append(json.RawMessage(nil), r.Value...),
	}
	if r.Attrs != nil {
		out.Attrs = make(map[string]json.RawMessage, len(r.Attrs))
		for k, v := range r.Attrs {
			out.Attrs[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// MarshalJSON flattens id/ctime/mtime/value and every attribute into a
// single JSON object, matching the shape external readers of .vars.json
// expect.
func (r Record) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(r.Attrs)+4)
	for k, v := range r.Attrs {
		flat[k] = v
	}

	idJSON, err := json.Marshal(r.ID.String())
	if err != nil {
		return nil, err
	}
	flat["id"] = idJSON

	ctimeJSON, err := json.Marshal(r.CTime)
	if err != nil {
		return nil, err
	}
	flat["ctime"] = ctimeJSON

	mtimeJSON, err := json.Marshal(r.MTime)
	if err != nil {
		return nil, err
	}
	flat["mtime"] = mtimeJSON

	if r.Value == nil {
		flat["value"] = json.RawMessage("null")
	} else {
		flat["value"] = r.Value
	}

	return marshalOrderedObject(flat)
}

// UnmarshalJSON splits id/ctime/mtime/value back out from the free-form
// attributes of a record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	if raw, ok := flat["id"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("record id: %w", err)
		}
		r.ID = id
		delete(flat, "id")
	}
	if raw, ok := flat["ctime"]; ok {
		if err := json.Unmarshal(raw, &r.CTime); err != nil {
			return fmt.Errorf("record ctime: %w", err)
		}
		delete(flat, "ctime")
	}
	if raw, ok := flat["mtime"]; ok {
		if err := json.Unmarshal(raw, &r.MTime); err != nil {
			return fmt.Errorf("record mtime: %w", err)
		}
		delete(flat, "mtime")
	}
	if raw, ok := flat["value"]; ok {
		r.Value = raw
		delete(flat, "value")
	}

	if len(flat) > 0 {
		r.Attrs = flat
	} else {
		r.Attrs = nil
	}
	return nil
}

// marshalOrderedObject writes fields in a stable, sorted-key order so that
// repeated marshals of an unchanged record produce byte-identical output;
// this matters because the sync engine diffs bucket files byte-for-byte.
func marshalOrderedObject(fields map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(fields[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// JSONEqual reports whether a and b are structurally equal as JSON values,
// per spec.md §4.2's set-no-op rule: compare by normalized stringified form.
func JSONEqual(a, b json.RawMessage) bool {
	na, err := normalize(a)
	if err != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	nb, err := normalize(b)
	if err != nil {
		return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
	}
	return bytes.Equal(na, nb)
}

func normalize(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return canonicalMarshal(v)
}

// canonicalMarshal re-encodes v with map keys sorted, recursively, so two
// JSON values that differ only by key order or whitespace compare equal.
func canonicalMarshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := canonicalMarshal(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			eb, err := canonicalMarshal(e)
			if err != nil {
				return nil, err
			}
			buf.Write(eb)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	default:
		return json.Marshal(t)
	}
}
