// Package services implements the service-account footprint accounting
// and threshold-balance rules of spec.md §4.10.
//
// Grounded on the teacher's effective-balance/threshold bookkeeping
// (standstaff-beacon-kit processEffectiveBalanceUpdates), generalized
// from a single hysteresis-banded scalar to the two-scalar (items, bytes)
// footprint model spec.md §4.10 specifies.
package services

import (
	"github.com/holiman/uint256"

	"github.com/jamzig/statecore/state"
)

// Thresholds are the B_S/B_I/B_L constants spec.md §4.10 names without
// fixing values for (deployment-specific, analogous to params.Profile).
type Thresholds struct {
	BaseDeposit   uint64 // B_S
	PerItem       uint64 // B_I
	PerByte       uint64 // B_L
}

// DefaultThresholds mirrors the whitepaper's reference constants.
func DefaultThresholds() Thresholds {
	return Thresholds{BaseDeposit: 100, PerItem: 10, PerByte: 1}
}

// RecomputeFootprint recomputes (a_i, a_o) from an account's data map, as
// spec.md §3's invariant 5 and §4.10 define:
//   - each storage entry contributes 1 item and 34+key_len+value_len bytes
//   - each preimage-lookup entry contributes 2 items and 81+length bytes
func RecomputeFootprint(acc *state.ServiceAccount) (items, bytes uint64) {
	for k, v := range acc.Storage {
		items++
		bytes += 34 + uint64(len(k)) + uint64(len(v))
	}
	for k := range acc.Lookup {
		items += 2
		bytes += 81 + uint64(k.Length)
	}
	return items, bytes
}

// SyncFootprint recomputes and writes back an account's tracked
// footprint scalars. Call after any mutation of Storage or Lookup.
func SyncFootprint(acc *state.ServiceAccount) {
	acc.FootprintItems, acc.FootprintBytes = RecomputeFootprint(acc)
}

// ThresholdBalance computes a_t = B_S + B_I*a_i + B_L*max(0, a_o - storage_offset).
func ThresholdBalance(t Thresholds, acc *state.ServiceAccount) uint64 {
	over := uint256.NewInt(0)
	if acc.FootprintBytes > acc.StorageOffset {
		over.SetUint64(acc.FootprintBytes - acc.StorageOffset)
	}

	total := uint256.NewInt(t.BaseDeposit)
	itemCost := new(uint256.Int).Mul(uint256.NewInt(t.PerItem), uint256.NewInt(acc.FootprintItems))
	byteCost := new(uint256.Int).Mul(uint256.NewInt(t.PerByte), over)

	total.Add(total, itemCost)
	total.Add(total, byteCost)
	if !total.IsUint64() {
		return ^uint64(0)
	}
	return total.Uint64()
}

// IsUnderfunded reports whether an account's balance is below its
// threshold balance (spec.md §4.10: "policy enforced by
// accumulation/refine host calls", so this core only exposes the
// predicate, it does not act on it).
func IsUnderfunded(t Thresholds, acc *state.ServiceAccount) bool {
	return acc.Balance < ThresholdBalance(t, acc)
}

// PutStorage writes a storage entry and keeps the footprint in sync.
func PutStorage(acc *state.ServiceAccount, key state.DataKey, value []byte) {
	if acc.Storage == nil {
		acc.Storage = make(map[state.DataKey][]byte)
	}
	acc.Storage[key] = append([]byte(nil), value...)
	SyncFootprint(acc)
}

// DeleteStorage removes a storage entry and keeps the footprint in sync.
func DeleteStorage(acc *state.ServiceAccount, key state.DataKey) {
	delete(acc.Storage, key)
	SyncFootprint(acc)
}
