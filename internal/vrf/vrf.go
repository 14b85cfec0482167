// Package vrf defines the verifiable-random-function contract spec.md
// §4.4 needs for Bandersnatch seal and entropy-source verification, plus
// a deterministic stand-in implementation.
//
// See DESIGN.md ("Bandersnatch VRF — standard-library justification") for
// why this is stdlib-backed rather than grounded on a third-party
// library: no example in this pack, nor any library reachable from their
// go.mod files, implements the Bandersnatch curve. The interface below is
// shaped so a real Bandersnatch backend can be substituted without
// touching any caller.
package vrf

import (
	"crypto/ed25519"

	"golang.org/x/crypto/blake2b"
)

// PublicKey is a 32-byte VRF public key.
type PublicKey [32]byte

// Proof is a VRF proof/signature over (context, message).
type Proof [64]byte

// Verifier verifies a VRF proof and exposes its deterministic output.
type Verifier interface {
	// Verify checks that proof was produced by pub over (context,
	// message) and, if so, returns the VRF's deterministic output hash.
	Verify(pub PublicKey, context, message []byte, proof Proof) (output [32]byte, ok bool)
}

// Prover produces VRF proofs; used only by tests and block-building
// helpers, never by the state transition itself (which only verifies).
type Prover interface {
	Prove(context, message []byte) (proof Proof, output [32]byte)
	Public() PublicKey
}

// standIn implements Prover on top of stdlib
// crypto/ed25519 plus a blake2b output derivation, standing in for a
// Bandersnatch ring-VRF backend.
type standIn struct {
	priv ed25519.PrivateKey
}

// NewSigner returns a stand-in Prover whose keypair is derived
// deterministically from seed, for tests and local block-building.
func NewSigner(seed []byte) (*standIn, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errShortSeed
	}
	return &standIn{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

var errShortSeed = shortSeedError{}

type shortSeedError struct{}

func (shortSeedError) Error() string { return "vrf: seed must be ed25519.SeedSize bytes" }

func (s *standIn) Public() PublicKey {
	var pk PublicKey
	copy(pk[:], s.priv.Public().(ed25519.PublicKey))
	return pk
}

func (s *standIn) Prove(context, message []byte) (Proof, [32]byte) {
	signed := signedMessage(context, message)
	sig := ed25519.Sign(s.priv, signed)
	var proof Proof
	copy(proof[:], sig)
	return proof, deriveOutput(proof)
}

// StandInVerifier is the package-level Verifier backed by ed25519 +
// blake2b. It is stateless and safe for concurrent use, matching the
// spec.md §5 requirement that seal and entropy-source verification may
// run concurrently.
type StandInVerifier struct{}

func (StandInVerifier) Verify(pub PublicKey, context, message []byte, proof Proof) ([32]byte, bool) {
	signed := signedMessage(context, message)
	if !ed25519.Verify(ed25519.PublicKey(pub[:]), signed, proof[:]) {
		return [32]byte{}, false
	}
	return deriveOutput(proof), true
}

func signedMessage(context, message []byte) []byte {
	out := make([]byte, 0, len(context)+len(message)+1)
	out = append(out, context...)
	out = append(out, 0) // domain separator between context and message
	out = append(out, message...)
	return out
}

// deriveOutput derives the VRF's deterministic output hash from the
// proof bytes, the way a real VRF derives its output from the proof
// rather than from the signed message (so that the output is unique per
// proof, not per message).
func deriveOutput(proof Proof) [32]byte {
	h := blake2b.Sum256(proof[:])
	return h
}

// DeriveOutput exposes deriveOutput to callers that need a proof's
// deterministic output without performing a full verification — e.g.
// Safrole's entropy-source context, which is keyed on vrf_output(seal)
// regardless of whether the seal itself has been checked yet, letting
// seal verification and entropy-source verification run independently.
func DeriveOutput(proof Proof) [32]byte {
	return deriveOutput(proof)
}
