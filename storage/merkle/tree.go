// Package merkle implements the commitment tree: a binary SHA3 merkle tree
// over the commitments of a finalized session. The root is persisted as a
// permanent CommitmentRoot; each participant keeps only the short inclusion
// proof for its own leaf, so the full commitment history can be compacted
// away without losing verifiability.
package merkle

import (
	"golang.org/x/crypto/sha3"
)

// domain separation tags for leaf and interior node hashing, preventing a
// leaf from being reinterpreted as an interior node
const (
	tagLeaf uint8 = 0x00
	tagNode uint8 = 0x01
)

// Tree is a binary merkle tree built over an ordered list of leaf values.
// Leaves at odd levels are paired with a duplicate of the last node.
type Tree struct {
	leaves [][]byte
	levels [][][]byte
}

// NewTree builds a tree over the given leaf values. The leaf order is part
// of the tree's identity; callers must present leaves in canonical order.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}

	level := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		level = append(level, computeLeafHash(leaf))
	}

	levels := [][][]byte{level}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, computeNodeHash(level[i], level[i+1]))
				continue
			}
			// odd node out pairs with itself
			next = append(next, computeNodeHash(level[i], level[i]))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{leaves: leaves, levels: levels}, nil
}

// Root returns the tree's root hash.
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Prove returns the inclusion proof for the leaf at the given index.
func (t *Tree) Prove(index int) (*Proof, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, NewMalformedProofErrorf("leaf index %d out of range [0, %d)", index, len(t.leaves))
	}

	var siblings [][]byte
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := pos ^ 1
		if sibling >= len(level) {
			sibling = pos
		}
		siblings = append(siblings, level[sibling])
		pos >>= 1
	}

	return &Proof{
		LeafHash:    computeLeafHash(t.leaves[index]),
		SiblingPath: siblings,
		LeafIndex:   uint64(index),
	}, nil
}

func computeLeafHash(value []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{tagLeaf})
	h.Write(value)
	return h.Sum(nil)
}

func computeNodeHash(left, right []byte) []byte {
	h := sha3.New256()
	h.Write([]byte{tagNode})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
