package model

import "encoding/json"

// IndexEntryType distinguishes what an index entry's path refers to.
type IndexEntryType string

const (
	IndexEntryVar     IndexEntryType = "var"
	IndexEntryHistory IndexEntryType = "history"
	IndexEntryFile    IndexEntryType = "file"
)

// IndexData is the payload attached to an index entry's key (spec.md §4.5):
// {type, path, ...}. Extra fields ride along in Extra.
type IndexData struct {
	Type  IndexEntryType             `json:"type"`
	Path  string                     `json:"path"`
	Extra map[string]json.RawMessage `json:"-"`
}

func (d IndexData) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage, len(d.Extra)+2)
	for k, v := range d.Extra {
		flat[k] = v
	}
	typeJSON, err := json.Marshal(d.Type)
	if err != nil {
		return nil, err
	}
	flat["type"] = typeJSON
	pathJSON, err := json.Marshal(d.Path)
	if err != nil {
		return nil, err
	}
	flat["path"] = pathJSON
	return marshalOrderedObject(flat)
}

func (d *IndexData) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if raw, ok := flat["type"]; ok {
		if err := json.Unmarshal(raw, &d.Type); err != nil {
			return err
		}
		delete(flat, "type")
	}
	if raw, ok := flat["path"]; ok {
		if err := json.Unmarshal(raw, &d.Path); err != nil {
			return err
		}
		delete(flat, "path")
	}
	if len(flat) > 0 {
		d.Extra = flat
	}
	return nil
}
