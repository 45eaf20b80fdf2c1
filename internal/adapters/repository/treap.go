package repository

import (
	"hash/fnv"
	"time"
)

// Treap index of one user's logs.
//
// Ordering: timestamp ASC, then log id ASC (deterministic). In-order
// traversal yields the user's logs oldest first, which lets trailing-window
// reads visit only the nodes inside the window.

type logKey struct {
	at int64 // unix nanoseconds
	id string
}

func keyOf(at time.Time, id string) logKey {
	return logKey{at: at.UnixNano(), id: id}
}

// less returns true if a sorts before b.
func less(a, b logKey) bool {
	if a.at != b.at {
		return a.at < b.at
	}
	return a.id < b.id
}

// treap node
type node struct {
	key   logKey
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

// idPriority hashes the id so priorities are stable across runs and
// independent of insertion order.
func idPriority(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

func insert(n *node, k logKey) *node {
	if n == nil {
		return &node{key: k, prio: idPriority(k.id), size: 1}
	}
	if less(k, n.key) {
		n.left = insert(n.left, k)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, k)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k logKey) *node {
	if n == nil {
		return nil
	}
	if k == n.key {
		// Merge children by rotating the higher priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k)
		}
	} else if less(k, n.key) {
		n.left = deleteNode(n.left, k)
	} else {
		n.right = deleteNode(n.right, k)
	}
	fix(n)
	return n
}

// collectRange appends ids with from <= at <= to in order.
func collectRange(n *node, from, to int64, out *[]string) {
	if n == nil {
		return
	}
	if n.key.at >= from {
		collectRange(n.left, from, to, out)
	}
	if n.key.at >= from && n.key.at <= to {
		*out = append(*out, n.key.id)
	}
	if n.key.at <= to {
		collectRange(n.right, from, to, out)
	}
}

// last returns the greatest key, if any.
// descend visits keys newest first until visit returns false.
func descend(n *node, visit func(logKey) bool) bool {
	if n == nil {
		return true
	}
	return descend(n.right, visit) && visit(n.key) && descend(n.left, visit)
}

func last(n *node) (logKey, bool) {
	if n == nil {
		return logKey{}, false
	}
	for n.right != nil {
		n = n.right
	}
	return n.key, true
}
