// Package params carries the deployment-fixed constants for the state
// transition. A Profile is threaded explicitly through every constructor
// in this module; nothing here is read from a process-global.
package params

// Profile is a fully-resolved set of protocol parameters for one
// deployment (e.g. "tiny" for tests, "full" for production).
type Profile struct {
	Name string

	// Base parameters (named after the whitepaper's own symbols).
	ValidatorCount        uint32 // |validators|
	SuperMajority         uint32 // assurance/guarantee threshold
	CoreCount             uint32 // C
	EpochLength           uint32 // E, slots per epoch
	TicketSubmissionEnd   uint32 // deadline slot-in-epoch for ticket submission
	TicketsPerValidatorN  uint32 // N
	TicketsPerExtrinsicK  uint32 // K

	// Derived parameters, computed once by the constructors below.
	RotationPeriod       uint32 // R
	PreimageExpungement  uint32 // D
	TotalGasAccumulation uint64 // G_T
	PerCoreGas           uint64 // G_A
	RecentHistoryDepth   uint32 // H
	AuthQueueLength      uint32 // Q
	AuthPoolCapacity     uint32 // O
	MaxDependencies      uint32 // J

	// WaiveFallbackAuthorCheckFirstEpoch documents and controls the
	// bootstrap waiver discussed in spec.md §9 / SPEC_FULL.md §9: the
	// fallback-mode author check is skipped for epoch 0 so that a
	// deployment can bootstrap from a genesis state whose seed validator
	// set has not yet produced a single real fallback-seal. This must
	// never be hard-coded; it is read from here.
	WaiveFallbackAuthorCheckFirstEpoch bool
}

// WorkReplacementPeriod is the number of slots a core's occupant report
// may sit unconfirmed before a new guarantee is permitted to replace it
// (spec.md §4.5 "CoreEngaged").
func (p *Profile) WorkReplacementPeriod() uint32 {
	return p.RotationPeriod * 2
}

// MaxWorkReportSize is the §4.5 48 KiB ceiling on auth_output + results.
const MaxWorkReportSize = 48 * 1024

// Tiny returns the "tiny" profile used for tests: 6 validators, 5
// super-majority, 2 cores, epoch length 12.
func Tiny() *Profile {
	p := &Profile{
		Name:                 "tiny",
		ValidatorCount:       6,
		SuperMajority:        5,
		CoreCount:            2,
		EpochLength:          12,
		TicketSubmissionEnd:  10,
		TicketsPerValidatorN: 3,
		TicketsPerExtrinsicK: 3,

		WaiveFallbackAuthorCheckFirstEpoch: true,
	}
	deriveParams(p)
	return p
}

// Full returns the "full" production profile: 1023 validators, 683
// super-majority, 341 cores, 600 slots/epoch.
func Full() *Profile {
	p := &Profile{
		Name:                 "full",
		ValidatorCount:       1023,
		SuperMajority:        683,
		CoreCount:            341,
		EpochLength:          600,
		TicketSubmissionEnd:  500,
		TicketsPerValidatorN: 2,
		TicketsPerExtrinsicK: 16,

		WaiveFallbackAuthorCheckFirstEpoch: true,
	}
	deriveParams(p)
	return p
}

// deriveParams fills in the derived fields of a Profile from its base
// fields. Values are chosen to match the JAM whitepaper's own derivation
// rules for rotation period, expungement, and gas budgets.
func deriveParams(p *Profile) {
	// Rotation period: one sixth of an epoch for full-sized deployments,
	// clamped to at least 4 slots so tiny profiles still rotate guarantor
	// assignments more than once per epoch.
	r := p.EpochLength / 6
	if r < 4 {
		r = 4
	}
	p.RotationPeriod = r

	p.PreimageExpungement = p.EpochLength * 2
	p.TotalGasAccumulation = 3_500_000_000
	p.PerCoreGas = 10_000_000
	p.RecentHistoryDepth = 8
	p.AuthQueueLength = 80
	p.AuthPoolCapacity = 8
	p.MaxDependencies = 8
}
