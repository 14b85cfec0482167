// Package jamtime implements the time sub-transition (spec.md §4.2):
// deriving epoch/slot-in-epoch/is-new-epoch from the header slot and
// advancing τ.
//
// Grounded on the teacher's processSlot/ProcessSlots loop
// (standstaff-beacon-kit state_processor.go), which advances a single
// slot counter field and derives epoch boundaries from it the same way.
package jamtime

import (
	"github.com/pkg/errors"

	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/state"
)

// ErrBadSlot is returned when the header slot does not strictly exceed τ.
var ErrBadSlot = errors.New("bad slot: header slot must exceed prior slot")

// Derived holds the quantities spec.md §4.2 says Time exposes, computed
// from a (priorSlot, headerSlot, epochLength) pair.
type Derived struct {
	Epoch                 uint32
	SlotInEpoch           uint32
	IsNewEpoch            bool
	IsConsecutiveEpoch    bool
	RotationPeriodAdvanced bool
}

// Advance validates the header slot against the staged τ, computes the
// Derived quantities, and writes τ' = headerSlot.
func Advance(s *state.Staged, p *params.Profile, headerSlot uint32) (Derived, error) {
	tau := s.Tau()
	if headerSlot <= tau.Slot {
		return Derived{}, ErrBadSlot
	}

	priorEpoch := tau.Slot / p.EpochLength
	newEpoch := headerSlot / p.EpochLength
	priorRotation := tau.Slot / p.RotationPeriod
	newRotation := headerSlot / p.RotationPeriod

	d := Derived{
		Epoch:                  newEpoch,
		SlotInEpoch:            headerSlot % p.EpochLength,
		IsNewEpoch:             newEpoch > priorEpoch,
		IsConsecutiveEpoch:     newEpoch == priorEpoch+1,
		RotationPeriodAdvanced: newRotation > priorRotation,
	}

	s.TauMut().Slot = headerSlot
	return d, nil
}
