// Package preimages implements the preimage lifecycle of spec.md §4.8:
// solicit / provide / forget over a per-(hash,length) history of up to
// three timeslots, plus historical availability lookup.
package preimages

import (
	"github.com/pkg/errors"

	"github.com/jamzig/statecore/services"
	"github.com/jamzig/statecore/state"
)

var (
	ErrAlreadySolicited       = errors.New("preimage already solicited")
	ErrPreimageLookupMissing  = errors.New("preimage lookup entry missing")
	ErrIncorrectLookupState   = errors.New("preimage lookup entry in incorrect state for this operation")
)

// Solicit creates or extends a lookup entry for (hash, length) on acc, at
// the given current slot. Only reached from tests here: in production
// this is driven by a service's accumulate host call, and the PVM
// collaborator that would issue it is outside this core's scope.
func Solicit(acc *state.ServiceAccount, key state.PreimageLookupKey, now uint32) error {
	if acc.Lookup == nil {
		acc.Lookup = make(map[state.PreimageLookupKey]state.PreimageStatus)
	}
	status, exists := acc.Lookup[key]
	switch {
	case !exists:
		acc.Lookup[key] = state.PreimageStatus{}
	case len(status.Slots) == 2:
		// Re-solicit of a forgotten preimage: append the current slot.
		status.Slots = append(status.Slots, now)
		acc.Lookup[key] = status
	default:
		return ErrAlreadySolicited
	}
	services.SyncFootprint(acc)
	return nil
}

// Provide registers the preimage bytes for key and calls RegisterAvailable.
func Provide(acc *state.ServiceAccount, key state.PreimageLookupKey, data []byte, now uint32) error {
	if acc.Preimage == nil {
		acc.Preimage = make(map[state.Hash][]byte)
	}
	acc.Preimage[key.Hash] = append([]byte(nil), data...)
	if err := RegisterAvailable(acc, key, now); err != nil {
		return err
	}
	services.SyncFootprint(acc)
	return nil
}

// RegisterAvailable sets the entry to the single slot now when it is
// empty or has exactly one slot, appends now as slot 2 when it has two
// slots, and rejects an entry that already has three slots.
func RegisterAvailable(acc *state.ServiceAccount, key state.PreimageLookupKey, now uint32) error {
	status, exists := acc.Lookup[key]
	if !exists {
		return ErrPreimageLookupMissing
	}
	switch len(status.Slots) {
	case 0, 1:
		status.Slots = []uint32{now}
	case 2:
		status.Slots = append(status.Slots, now)
	default:
		return ErrIncorrectLookupState
	}
	acc.Lookup[key] = status
	return nil
}

// Forget applies spec.md §4.8's forget state machine. Only reached from
// tests here, for the same reason as Solicit above: the accumulate host
// call that would trigger it in production is out of scope.
func Forget(acc *state.ServiceAccount, key state.PreimageLookupKey, now uint32, expungementPeriod uint32) error {
	status, exists := acc.Lookup[key]
	if !exists {
		return ErrPreimageLookupMissing
	}

	switch len(status.Slots) {
	case 0:
		delete(acc.Lookup, key)
		delete(acc.Preimage, key.Hash)
	case 1:
		status.Slots = append(status.Slots, now)
		acc.Lookup[key] = status
	case 2:
		if now-status.Slots[1] >= expungementPeriod {
			delete(acc.Lookup, key)
			delete(acc.Preimage, key.Hash)
		} else {
			return ErrIncorrectLookupState
		}
	case 3:
		if now-status.Slots[1] >= expungementPeriod {
			status.Slots = []uint32{status.Slots[2], now}
			acc.Lookup[key] = status
		} else {
			return ErrIncorrectLookupState
		}
	default:
		return ErrIncorrectLookupState
	}
	services.SyncFootprint(acc)
	return nil
}

// HistoricalLookup returns the preimage bytes for key iff t lies within
// an "available" interval of its status history.
func HistoricalLookup(acc *state.ServiceAccount, key state.PreimageLookupKey, t uint32) ([]byte, bool) {
	status, exists := acc.Lookup[key]
	if !exists {
		return nil, false
	}
	if !isAvailableAt(status, t) {
		return nil, false
	}
	data, ok := acc.Preimage[key.Hash]
	return data, ok
}

// isAvailableAt implements the interval semantics implied by the four
// status modes: requested (empty, never available), available-since
// (one slot, available from then on), withdrawn (two slots, available
// only in [slot0, slot1)), re-available (three slots, available in
// [slot0, slot1) and again from slot2 onward).
func isAvailableAt(status state.PreimageStatus, t uint32) bool {
	switch len(status.Slots) {
	case 0:
		return false
	case 1:
		return t >= status.Slots[0]
	case 2:
		return t >= status.Slots[0] && t < status.Slots[1]
	case 3:
		return (t >= status.Slots[0] && t < status.Slots[1]) || t >= status.Slots[2]
	default:
		return false
	}
}
