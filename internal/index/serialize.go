package index

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bhdir/bhdir/internal/model"
)

// serialize writes the preorder byte grammar of spec.md §4.5:
//
//	NODE := KEY(16 bytes) DATA_JSON(variable) 0x00 LEFT RIGHT
//	NULL := 0x00 * 16            // all-zero key marks absent subtree
func serialize(n *node) ([]byte, error) {
	var buf bytes.Buffer
	if err := serializeInto(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func serializeInto(buf *bytes.Buffer, n *node) error {
	if n == nil {
		var zero Key
		buf.Write(zero[:])
		return nil
	}

	buf.Write(n.key[:])

	dataJSON, err := json.Marshal(n.data)
	if err != nil {
		return err
	}
	if bytes.IndexByte(dataJSON, 0x00) >= 0 {
		return fmt.Errorf("index data for key %x contains an embedded NUL byte", n.key)
	}
	buf.Write(dataJSON)
	buf.WriteByte(0x00)

	if err := serializeInto(buf, n.left); err != nil {
		return err
	}
	return serializeInto(buf, n.right)
}

// deserialize parses the preorder byte grammar back into a tree, returning
// its root. Bytes left over after the root's subtree are an error.
func deserialize(data []byte) (*node, error) {
	n, rest, err := deserializeNode(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("index: %d trailing bytes after deserialization", len(rest))
	}
	return n, nil
}

func deserializeNode(data []byte) (*node, []byte, error) {
	if len(data) < 16 {
		return nil, nil, fmt.Errorf("index: truncated key, %d bytes remain", len(data))
	}
	var key Key
	copy(key[:], data[:16])
	rest := data[16:]

	if key.isZero() {
		return nil, rest, nil
	}

	nulAt := bytes.IndexByte(rest, 0x00)
	if nulAt < 0 {
		return nil, nil, fmt.Errorf("index: unterminated data JSON for key %x", key)
	}
	dataJSON := rest[:nulAt]
	rest = rest[nulAt+1:]

	var idxData model.IndexData
	if err := json.Unmarshal(dataJSON, &idxData); err != nil {
		return nil, nil, fmt.Errorf("index: data JSON for key %x: %w", key, err)
	}

	left, rest, err := deserializeNode(rest)
	if err != nil {
		return nil, nil, err
	}
	right, rest, err := deserializeNode(rest)
	if err != nil {
		return nil, nil, err
	}

	n := &node{key: key, data: &idxData, left: left, right: right}
	updateHeight(n)
	return n, rest, nil
}
