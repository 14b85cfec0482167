// Package state implements the staged, copy-on-write state container
// described in spec.md §3/§4.1: the sixteen components of σ, and the
// per-component lazy-clone overlay that sub-transitions write through.
//
// Grounded on the teacher's (standstaff-beacon-kit) generic BeaconState /
// StateProcessor split and on the geth-sharding fork's plain
// beacon-chain/core/state/state.go container, adapted from "one big struct
// with setters" to "sixteen independently cloneable slots" because the
// spec's invariant is per-component, not whole-state, copy-on-write.
package state

// ComponentID identifies one of the sixteen components of σ.
type ComponentID int

const (
	ComponentAlpha ComponentID = iota // α: authorization pools
	ComponentBeta                     // β: recent history
	ComponentGamma                    // γ: Safrole state
	ComponentDelta                    // δ: service accounts
	ComponentEta                      // η: entropy ring
	ComponentIota                     // ι: incoming validators
	ComponentKappa                    // κ: current validators
	ComponentLambda                   // λ: previous validators
	ComponentRho                      // ρ: pending reports
	ComponentTau                      // τ: current slot
	ComponentPhi                      // φ: authorization queue
	ComponentChi                      // χ: privileges
	ComponentPsi                      // ψ: disputes
	ComponentPi                       // π: validator statistics
	ComponentXi                       // ξ: accumulated-history ring
	ComponentTheta                    // θ: pending-report queue

	numComponents
)

// Component is implemented by every component value stored in a
// Container. Clone must return a deep, independent copy: no slice or map
// backing array may be shared between the return value and the receiver.
// The one exception is the byte contents of work-report outputs (result
// outputs and the authorizer output), which ρ and θ clones share.
type Component interface {
	Clone() Component
}
