package cacher

import (
	"encoding/json"

	"github.com/bhdir/bhdir/internal/model"
)

// marshalRecord encodes rec for storage in the external backend. A nil rec
// marshals to an empty payload with negative=true.
func marshalRecord(rec *model.Record) (data []byte, negative bool, err error) {
	if rec == nil {
		return nil, true, nil
	}
	data, err = json.Marshal(rec)
	return data, false, err
}

func unmarshalRecord(data []byte, out *model.Record) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
