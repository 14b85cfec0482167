// Package assurances implements spec.md §4.6: per-core bitfield tallying
// of validator availability attestations, promoting cores past the
// super-majority threshold to "ready for accumulation" and dropping
// timed-out pending reports.
//
// Grounded on reports.checkSignatures' validate-then-trust pattern
// (reports/reports.go): range-check the index, verify the Ed25519
// signature, and only then let the attestation count toward anything.
package assurances

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/jamzig/statecore/block"
	"github.com/jamzig/statecore/codec"
	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/state"
)

var (
	ErrBadValidatorIndex = errors.New("assurance validator index out of range")
	ErrBadBitfieldLength = errors.New("assurance bitfield length does not match core count")
	ErrDuplicateAssurer  = errors.New("validator already assured this block")
	ErrBadSignature      = errors.New("assurance signature invalid")
)

// ValidatorKeyFunc resolves a validator's Ed25519 public key.
type ValidatorKeyFunc func(idx state.ValidatorIndex) (state.Ed25519Pub, bool)

// Ready is one core's report that just crossed the availability
// threshold, emitted for the accumulation stage to consume.
type Ready struct {
	Core   state.CoreIndex
	Report state.WorkReport
}

// Tally verifies one block's assurance extrinsic and processes it
// against ρ, returning the reports now ready for accumulation. Cores
// whose pending report has timed out (without reaching threshold) are
// dropped without being marked ready. Each assurance's Ed25519 signature
// over the parent block hash (spec.md §4.6) is checked before its
// bitfield counts toward anything; a bad index, wrong-length bitfield,
// duplicate validator, or failed signature rejects the whole extrinsic,
// matching spec.md §7's fail-the-block-not-the-entry contract.
//
// spec.md §9 Open Question: a "must not exceed super-majority" check on
// the incoming assurance set is intentionally not enforced here — the
// source disables it with a TODO and the spec treats it as out of
// contract until clarified.
func Tally(s *state.Staged, p *params.Profile, currentSlot uint32, parentHash state.Hash, validatorKey ValidatorKeyFunc, ex []block.Assurance) ([]Ready, error) {
	rho := s.Rho()
	message := codec.AssuranceSigningMessage(parentHash)

	counts := make([]uint32, len(rho.Cores))
	seen := make(map[state.ValidatorIndex]struct{}, len(ex))
	for _, a := range ex {
		if uint32(a.ValidatorIndex) >= p.ValidatorCount {
			return nil, ErrBadValidatorIndex
		}
		if _, dup := seen[a.ValidatorIndex]; dup {
			return nil, ErrDuplicateAssurer
		}
		seen[a.ValidatorIndex] = struct{}{}

		if len(a.Bitfield) != len(rho.Cores) {
			return nil, ErrBadBitfieldLength
		}

		pub, ok := validatorKey(a.ValidatorIndex)
		if !ok {
			return nil, ErrBadValidatorIndex
		}
		if !ed25519.Verify(ed25519.PublicKey(pub[:]), message, a.Signature[:]) {
			return nil, ErrBadSignature
		}

		for core, confirmed := range a.Bitfield {
			if confirmed {
				counts[core]++
			}
		}
	}

	var ready []Ready
	var toClear []state.CoreIndex
	for core, pending := range rho.Cores {
		if pending == nil {
			continue
		}
		if counts[core] >= p.SuperMajority {
			ready = append(ready, Ready{Core: state.CoreIndex(core), Report: *pending.Report})
			toClear = append(toClear, state.CoreIndex(core))
			continue
		}
		if currentSlot >= pending.TimeoutSlot && currentSlot-pending.TimeoutSlot >= p.WorkReplacementPeriod() {
			toClear = append(toClear, state.CoreIndex(core))
		}
	}

	if len(toClear) > 0 {
		rhoMut := s.RhoMut()
		for _, c := range toClear {
			rhoMut.Cores[c] = nil
		}
	}
	return ready, nil
}
