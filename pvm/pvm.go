// Package pvm specifies the PVM collaborator contract (spec.md §6): the
// embedded interpreter that executes service accumulate/on-transfer
// entrypoints. Only its external contract is in scope for this core; no
// interpreter is implemented here.
package pvm

import (
	"context"

	"github.com/jamzig/statecore/state"
)

// EntryPoint is one of the two PVM entrypoints accumulation invokes.
type EntryPoint int

const (
	EntryAccumulate EntryPoint = iota
	EntryOnTransfer
)

// Termination classifies how a PVM invocation ended.
type Termination int

const (
	TerminationHalt Termination = iota
	TerminationPanic
	TerminationOutOfGas
	TerminationPageFault
	TerminationHostCall
)

// DeferredTransfer is a balance movement accumulation must apply between
// services after the PVM returns.
type DeferredTransfer struct {
	From   state.ServiceID
	To     state.ServiceID
	Amount uint64
	Memo   []byte
	Gas    uint64
}

// StateUpdates captures the δ/χ/ι/φ mutations a PVM invocation requests.
// This core applies them; the PVM never mutates σ directly (spec.md §5:
// "it must not re-enter the transition").
type StateUpdates struct {
	ServiceBalanceDelta map[state.ServiceID]int64
	NewCode             map[state.ServiceID]state.Hash
	QueuedAuthorizers   map[state.CoreIndex][]state.Hash
	PrivilegeChanges    *state.Chi

	// DesignatedValidators, when non-nil, is the new ι (the validator set
	// scheduled to become κ at the next epoch boundary) as set by the
	// chi.Designator-privileged service's accumulation (spec.md §4.7).
	DesignatedValidators *state.ValidatorSet
}

// HostAccessView is the restricted, deterministic view of σ a host call
// may read: the invoking service's own namespace, δ/χ/ι/φ under
// privilege rules, current time, and η′[0] read-only (spec.md §6).
type HostAccessView interface {
	Now() uint32
	LatestEntropy() state.Hash
	Account(id state.ServiceID) (*state.ServiceAccount, bool)
	Privileges() state.Chi
}

// Result is what one PVM invocation returns.
type Result struct {
	OutputDigest      state.Hash
	DeferredTransfers []DeferredTransfer
	StateUpdates      StateUpdates
	GasConsumed       uint64
	Termination       Termination
	FaultAddr         uint64 // valid when Termination == TerminationPageFault
	HostCallIndex     uint32 // valid when Termination == TerminationHostCall
}

// Collaborator is the external PVM contract accumulation dispatches
// against.
type Collaborator interface {
	Invoke(
		ctx context.Context,
		serviceID state.ServiceID,
		entry EntryPoint,
		gasLimit uint64,
		input []byte,
		hostView HostAccessView,
	) (Result, error)
}
