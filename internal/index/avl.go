// Package index implements the persistent UUID -> entry AVL index described
// in spec.md §4.5: 128-bit unsigned keys (realized as 16-byte arrays
// compared lexicographically, which produces the same order as big-endian
// unsigned comparison, per spec.md §9's design note avoiding a bignum
// dependency), unique keys, preorder on-disk serialization sealed with an
// MD5 checksum.
package index

import (
	"bytes"

	"github.com/bhdir/bhdir/internal/model"
)

// Key is a 128-bit UUID key, stored and compared as raw bytes.
type Key [16]byte

func (k Key) compare(other Key) int {
	return bytes.Compare(k[:], other[:])
}

func (k Key) isZero() bool {
	return k == Key{}
}

// node is one AVL tree node. An absent subtree is represented by a nil
// *node, not a node with nil data; data is always populated for a live node.
type node struct {
	key         Key
	data        *model.IndexData
	left, right *node
	height      int
}

func height(n *node) int {
	if n == nil {
		return 0
	}
	return n.height
}

func balanceFactor(n *node) int {
	if n == nil {
		return 0
	}
	return height(n.left) - height(n.right)
}

func updateHeight(n *node) {
	lh, rh := height(n.left), height(n.right)
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right

	x.right = y
	y.left = t2

	updateHeight(y)
	updateHeight(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left

	y.left = x
	x.right = t2

	updateHeight(x)
	updateHeight(y)
	return y
}

func rebalance(n *node) *node {
	updateHeight(n)
	bf := balanceFactor(n)

	if bf > 1 {
		if balanceFactor(n.left) < 0 {
			n.left = rotateLeft(n.left)
		}
		return rotateRight(n)
	}
	if bf < -1 {
		if balanceFactor(n.right) > 0 {
			n.right = rotateRight(n.right)
		}
		return rotateLeft(n)
	}
	return n
}

// insert inserts or replaces the entry for key, returning the new subtree
// root. Keys are unique: inserting an existing key overwrites its data.
func insert(n *node, key Key, data *model.IndexData) *node {
	if n == nil {
		return &node{key: key, data: data, height: 1}
	}

	switch key.compare(n.key) {
	case -1:
		n.left = insert(n.left, key, data)
	case 1:
		n.right = insert(n.right, key, data)
	default:
		n.data = data
		return n
	}

	return rebalance(n)
}

// search returns the data stored for key, or nil if absent.
func search(n *node, key Key) *model.IndexData {
	for n != nil {
		switch key.compare(n.key) {
		case -1:
			n = n.left
		case 1:
			n = n.right
		default:
			return n.data
		}
	}
	return nil
}

func minNode(n *node) *node {
	for n.left != nil {
		n = n.left
	}
	return n
}

// delete removes key from the subtree rooted at n, returning the new root.
func delete(n *node, key Key) *node {
	if n == nil {
		return nil
	}

	switch key.compare(n.key) {
	case -1:
		n.left = delete(n.left, key)
	case 1:
		n.right = delete(n.right, key)
	default:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		succ := minNode(n.right)
		n.key = succ.key
		n.data = succ.data
		n.right = delete(n.right, succ.key)
	}

	return rebalance(n)
}

// walkPreorder visits every live node in preorder (node, left, right).
func walkPreorder(n *node, visit func(key Key, data *model.IndexData)) {
	if n == nil {
		return
	}
	visit(n.key, n.data)
	walkPreorder(n.left, visit)
	walkPreorder(n.right, visit)
}

func count(n *node) int {
	if n == nil {
		return 0
	}
	return 1 + count(n.left) + count(n.right)
}
