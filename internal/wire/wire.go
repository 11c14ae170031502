// Package wire implements bhdir's control-socket framing and request/
// response shapes (spec.md §4.6), shared between internal/daemon (the
// server side) and client (the Go client library), so the two can never
// drift out of sync on the wire format.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/bhdir/bhdir/internal/bherrors"
)

// MaxFrameSize bounds a single request/response payload.
const MaxFrameSize = 64 << 20

// ReadFrame reads one length-prefixed payload from r, per spec.md §4.6's
// `len:uint32_be || payload(JSON)` framing.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, bherrors.Wrap(bherrors.ErrProtocol, "frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload with its length prefix to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Request is one control-socket RPC call, per spec.md §4.6.
type Request struct {
	ID      string            `json:"id"`
	Command string            `json:"command"`
	Args    []json.RawMessage `json:"args"`
}

// Response is one control-socket RPC reply, per spec.md §4.6.
type Response struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`

	Results []any  `json:"results,omitempty"`
	Message string `json:"message,omitempty"`
	Timeout bool   `json:"timeout,omitempty"`
}
