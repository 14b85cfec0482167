// Package triestate specifies the Merkle-trie collaborator contract
// (spec.md §6): given the full state dictionary (31-byte structured keys
// to byte values), produce a deterministic 32-byte root, and be the
// inverse of the dictionary-construction pass. The real trie is out of
// scope for this core; this package defines the interface plus a
// reference implementation used by this core's own tests (a binary
// Keccak-256 Merkle tree over sorted keys), grounded on the same Keccak
// construction spec.md §4.7 specifies for the accumulate root.
package triestate

import (
	"bytes"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Trie is the external Merkle-trie collaborator.
type Trie interface {
	// Root computes the state root of a dictionary.
	Root(dict map[[31]byte][]byte) ([32]byte, error)
	// Reconstruct must satisfy: Reconstruct(dict) == dict, and
	// Root(Reconstruct(dict)) == Root(dict) (spec.md §8 invariant 4).
	Reconstruct(dict map[[31]byte][]byte) (map[[31]byte][]byte, error)
}

// ReferenceTrie is a minimal, deterministic stand-in: a sorted-leaf
// binary Keccak-256 Merkle tree. It is not the production trie (wire
// format and proof shape are explicitly out of scope, spec.md §1) but it
// satisfies the round-trip and determinism obligations this core's tests
// rely on.
type ReferenceTrie struct{}

func (ReferenceTrie) Root(dict map[[31]byte][]byte) ([32]byte, error) {
	keys := make([][31]byte, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })

	leaves := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		h := sha3.NewLegacyKeccak256()
		h.Write(k[:])
		h.Write(dict[k])
		var leaf [32]byte
		copy(leaf[:], h.Sum(nil))
		leaves = append(leaves, leaf)
	}
	return merkleize(leaves), nil
}

func (ReferenceTrie) Reconstruct(dict map[[31]byte][]byte) (map[[31]byte][]byte, error) {
	out := make(map[[31]byte][]byte, len(dict))
	for k, v := range dict {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

// merkleize folds a leaf list into a single root, duplicating the last
// node at each level when the level has odd length (spec.md leaves
// padding of the production trie out of scope; this documents the
// choice this reference implementation makes).
func merkleize(level [][32]byte) [32]byte {
	if len(level) == 0 {
		return [32]byte{}
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			h := sha3.NewLegacyKeccak256()
			h.Write(level[2*i][:])
			h.Write(level[2*i+1][:])
			copy(next[i][:], h.Sum(nil))
		}
		level = next
	}
	return level[0]
}
