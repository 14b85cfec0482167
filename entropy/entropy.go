// Package entropy implements the η sub-transition (spec.md §4.3): the
// four-deep entropy ring, rotated at epoch boundaries and accumulated
// every block from the header's VRF output.
//
// Grounded on the teacher's RANDAO-mixing idiom
// (standstaff-beacon-kit processRandaoMixesReset / prysm-fork
// helpers.RandaoMix) of shifting a fixed ring of 32-byte mixes and
// folding in a per-block VRF value with a keyed hash; this repo uses
// blake2b (wired from golang.org/x/crypto, the same family the
// go-ethereum-derived examples in this pack import for non-Keccak
// hashing) instead of the simple XOR the eth2 RANDAO uses, because
// spec.md §4.3 calls for a keyed hash, not an XOR mix.
package entropy

import (
	"golang.org/x/crypto/blake2b"

	"github.com/jamzig/statecore/state"
)

// accumulateContext is the domain-separation prefix spec.md §4.3 names.
var accumulateContext = []byte("jam_entropy")

// Accumulate computes accumulate(prior, vrfOutput) = blake2b-256(context
// ∥ prior ∥ vrfOutput).
func Accumulate(prior state.Hash, vrfOutput state.Hash) state.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key never errors; a non-nil error
		// here indicates a corrupted build, not a data-dependent failure.
		panic(err)
	}
	h.Write(accumulateContext)
	h.Write(prior[:])
	h.Write(vrfOutput[:])

	var out state.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Advance applies the per-block entropy update described in spec.md
// §4.3: on a new-epoch block, shift the ring before accumulating;
// otherwise only accumulate η[0].
func Advance(s *state.Staged, isNewEpoch bool, vrfOutput state.Hash) {
	eta := s.EtaMut()
	if isNewEpoch {
		eta.Values[3] = eta.Values[2]
		eta.Values[2] = eta.Values[1]
		eta.Values[1] = eta.Values[0]
	}
	eta.Values[0] = Accumulate(eta.Values[0], vrfOutput)
}
