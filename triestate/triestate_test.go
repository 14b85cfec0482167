package triestate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootIsDeterministicAndOrderIndependent(t *testing.T) {
	var tr ReferenceTrie

	var k1, k2 [31]byte
	k1[0] = 1
	k2[0] = 2
	dict := map[[31]byte][]byte{k1: []byte("a"), k2: []byte("b")}

	root1, err := tr.Root(dict)
	require.NoError(t, err)

	reordered := map[[31]byte][]byte{k2: []byte("b"), k1: []byte("a")}
	root2, err := tr.Root(reordered)
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

func TestRootChangesWithContent(t *testing.T) {
	var tr ReferenceTrie
	var k1 [31]byte
	k1[0] = 1

	rootA, err := tr.Root(map[[31]byte][]byte{k1: []byte("a")})
	require.NoError(t, err)
	rootB, err := tr.Root(map[[31]byte][]byte{k1: []byte("b")})
	require.NoError(t, err)

	require.NotEqual(t, rootA, rootB)
}

func TestRootOfEmptyDictIsZero(t *testing.T) {
	var tr ReferenceTrie
	root, err := tr.Root(map[[31]byte][]byte{})
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, root)
}

func TestReconstructRoundTripsAndPreservesRoot(t *testing.T) {
	var tr ReferenceTrie
	var k1 [31]byte
	k1[0] = 9
	dict := map[[31]byte][]byte{k1: []byte("payload")}

	rebuilt, err := tr.Reconstruct(dict)
	require.NoError(t, err)
	require.Equal(t, dict, rebuilt)

	rootOrig, err := tr.Root(dict)
	require.NoError(t, err)
	rootRebuilt, err := tr.Root(rebuilt)
	require.NoError(t, err)
	require.Equal(t, rootOrig, rootRebuilt)
}

func TestMerkleizeHandlesOddLeafCountByDuplicatingLast(t *testing.T) {
	var a, b, c [32]byte
	a[0], b[0], c[0] = 1, 2, 3
	root := merkleize([][32]byte{a, b, c})
	require.NotEqual(t, [32]byte{}, root)

	rootSameTwice := merkleize([][32]byte{a, b, c, c})
	require.Equal(t, rootSameTwice, root)
}

// FuzzReconstructPreservesRoot exercises spec.md §8 invariant 4
// (Reconstruct(dict) == dict, Root(Reconstruct(dict)) == Root(dict))
// over arbitrary single-entry dictionaries.
func FuzzReconstructPreservesRoot(f *testing.F) {
	f.Add(byte(0), []byte("seed"))
	f.Fuzz(func(t *testing.T, keyByte byte, value []byte) {
		var tr ReferenceTrie
		var k [31]byte
		k[0] = keyByte
		dict := map[[31]byte][]byte{k: value}

		rebuilt, err := tr.Reconstruct(dict)
		require.NoError(t, err)
		require.Equal(t, dict, rebuilt)

		rootOrig, err := tr.Root(dict)
		require.NoError(t, err)
		rootRebuilt, err := tr.Root(rebuilt)
		require.NoError(t, err)
		require.Equal(t, rootOrig, rootRebuilt)
	})
}
