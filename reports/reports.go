// Package reports implements the guarantee-extrinsic validation pipeline
// of spec.md §4.5: a long ordered sequence of structural, anchor,
// signature, and assignment checks over each incoming work-report
// guarantee, followed by assignment to a core.
//
// Grounded on the prysm-fork examples' ordered-pipeline-of-checks idiom
// (eff95caa_kevlu93-prysm state-transition.go's VerifyOperationLengths /
// ProcessOperationsNoVerifyAttsSigs), adapted from "sequence of
// processFunc closures" to "sequence of named validate* steps" because
// spec.md enumerates each check as its own named failure mode (§7) rather
// than as a single opaque operation.
package reports

import (
	"bytes"
	"crypto/ed25519"
	"sort"

	"github.com/pkg/errors"

	"github.com/jamzig/statecore/block"
	"github.com/jamzig/statecore/codec"
	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/recenthistory"
	"github.com/jamzig/statecore/state"
)

var (
	ErrBadCoreIndex               = errors.New("bad core index")
	ErrOutOfOrderGuarantee        = errors.New("guarantees not sorted ascending by core index")
	ErrDuplicatePackage           = errors.New("duplicate package hash")
	ErrWorkReportTooBig           = errors.New("work report exceeds 48 KiB output limit")
	ErrWorkReportGasTooHigh       = errors.New("work report accumulate gas exceeds per-report cap")
	ErrTooManyDependencies        = errors.New("too many dependencies")
	ErrFutureReportSlot           = errors.New("report slot is in the future")
	ErrReportEpochBeforeLast      = errors.New("report slot predates the last rotation epoch")
	ErrAnchorNotRecent            = errors.New("anchor not found in recent history")
	ErrBadStateRoot               = errors.New("anchor state root mismatch")
	ErrBadBeefyMmrRoot            = errors.New("anchor beefy mmr root mismatch")
	ErrInsufficientGuarantees     = errors.New("too few guarantor signatures")
	ErrTooManyGuarantees          = errors.New("too many guarantor signatures")
	ErrNotSortedOrUniqueGuarantors = errors.New("guarantor indices not sorted or unique")
	ErrBadValidatorIndex          = errors.New("guarantor validator index out of range")
	ErrWrongAssignment            = errors.New("guarantor not assigned to this core at this rotation")
	ErrBadSignature               = errors.New("guarantee signature invalid")
	ErrBadServiceId               = errors.New("result references unknown service")
	ErrBadCodeHash                = errors.New("result code hash does not match service")
	ErrServiceItemGasTooLow       = errors.New("result accumulate gas below service minimum")
	ErrDependencyMissing          = errors.New("prerequisite not found in recent history or extrinsic")
	ErrSegmentRootLookupInvalid   = errors.New("segment root lookup not found in recent history or extrinsic")
	ErrCoreEngaged                = errors.New("core already occupied by a non-timed-out report")
	ErrCoreUnauthorized           = errors.New("authorizer not in core's authorization pool")
)

// ServiceLookup resolves a service account for the BadServiceId/BadCodeHash/
// ServiceItemGasTooLow checks, without this package depending on the
// services package's concrete storage type.
type ServiceLookup interface {
	Lookup(id state.ServiceID) (codeHash state.Hash, minGasAccumulate uint64, ok bool)
}

// AssignmentFunc resolves which validator indices are assigned to a core
// at a given rotation (κ for "this rotation", λ for "prior rotation" —
// spec.md §4.5).
type AssignmentFunc func(core state.CoreIndex, priorRotation bool) []state.ValidatorIndex

// ValidatorKeyFunc resolves a validator's Ed25519 public key, for
// signature checks.
type ValidatorKeyFunc func(idx state.ValidatorIndex) (state.Ed25519Pub, bool)

// Deps bundles the collaborators Validate needs beyond σ itself.
type Deps struct {
	Codec       codec.Codec
	Services    ServiceLookup
	Assignments AssignmentFunc
	ValidatorKey ValidatorKeyFunc
}

// Accepted is one guarantee that passed every check, ready for
// assignment to its core.
type Accepted struct {
	Core      state.CoreIndex
	Report    state.WorkReport
	Reporters []state.ValidatorIndex
}

// Validate runs the full §4.5 pipeline over one guarantees extrinsic and
// returns the accepted guarantees in extrinsic order. On the first
// failing guarantee it returns the specific error and no partial result
// (the caller must Abort its Staged transition — spec.md §7).
func Validate(s *state.Staged, p *params.Profile, d Deps, slot uint32, extrinsic []block.Guarantee) ([]Accepted, error) {
	if err := checkDuplicatePackages(extrinsic); err != nil {
		return nil, err
	}

	var lastCore int64 = -1
	accepted := make([]Accepted, 0, len(extrinsic))
	seenThisExtrinsic := make(map[state.Hash]struct{})

	for _, g := range extrinsic {
		core := int64(g.Report.CoreIndex)
		if uint32(g.Report.CoreIndex) >= p.CoreCount {
			return nil, ErrBadCoreIndex
		}
		if core <= lastCore {
			return nil, ErrOutOfOrderGuarantee
		}
		lastCore = core

		if err := checkSize(&g.Report); err != nil {
			return nil, err
		}
		if err := checkGasCap(&g.Report, p); err != nil {
			return nil, err
		}
		if err := checkDependencyCount(&g.Report, p); err != nil {
			return nil, err
		}
		if err := checkSlot(g.Slot, slot, p); err != nil {
			return nil, err
		}
		if err := checkAnchor(s, &g.Report.Context); err != nil {
			return nil, err
		}
		reporters, err := checkSignatures(s, d, g, p)
		if err != nil {
			return nil, err
		}
		if err := checkResults(d, &g.Report); err != nil {
			return nil, err
		}
		if err := checkDependencies(s, &g.Report, extrinsic); err != nil {
			return nil, err
		}
		if err := checkCoreAvailability(s, p, slot, g.Report.CoreIndex); err != nil {
			return nil, err
		}
		if err := checkAuthorizer(s, g.Report.CoreIndex, g.Report.AuthorizerHash); err != nil {
			return nil, err
		}
		if recenthistory.ContainsPackage(s, g.Report.PackageSpec.PackageHash) {
			return nil, ErrDuplicatePackage
		}
		if _, dup := seenThisExtrinsic[g.Report.PackageSpec.PackageHash]; dup {
			return nil, ErrDuplicatePackage
		}
		seenThisExtrinsic[g.Report.PackageSpec.PackageHash] = struct{}{}

		accepted = append(accepted, Accepted{Core: g.Report.CoreIndex, Report: g.Report, Reporters: reporters})
	}

	return accepted, nil
}

// Apply writes each accepted guarantee into ρ′ and records its timeout,
// per spec.md §4.5's effect clause. Authorizer removal is the
// authorization package's responsibility and is invoked separately by
// the orchestrator, per spec.md §4.11.
func Apply(s *state.Staged, slot uint32, accepted []Accepted, codecImpl codec.Codec) error {
	rho := s.RhoMut()
	for _, a := range accepted {
		hash, err := codec.HashReport(codecImpl, &a.Report)
		if err != nil {
			return err
		}
		report := a.Report
		rho.Cores[a.Core] = &state.PendingReport{
			Report:      &report,
			TimeoutSlot: slot,
			CachedHash:  hash,
		}
	}
	return nil
}

func checkDuplicatePackages(extrinsic []block.Guarantee) error {
	hashes := make([]state.Hash, len(extrinsic))
	for i, g := range extrinsic {
		hashes[i] = g.Report.PackageSpec.PackageHash
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
	for i := 1; i < len(hashes); i++ {
		if hashes[i] == hashes[i-1] {
			return ErrDuplicatePackage
		}
	}
	return nil
}

func checkSize(r *state.WorkReport) error {
	total := len(r.AuthOutput)
	for _, res := range r.Results {
		total += len(res.Output)
	}
	if total > params.MaxWorkReportSize {
		return ErrWorkReportTooBig
	}
	return nil
}

// perReportGasCap bounds the sum of a single report's result gas; this
// is distinct from the accumulation round's global budget (spec.md
// §4.7's g = max(G_T, G_A*C + ...)).
const perReportGasCap = 1_000_000_000

func checkGasCap(r *state.WorkReport, _ *params.Profile) error {
	var total uint64
	for _, res := range r.Results {
		total += res.AccumulateGas
	}
	if total > perReportGasCap {
		return ErrWorkReportGasTooHigh
	}
	return nil
}

func checkDependencyCount(r *state.WorkReport, p *params.Profile) error {
	if uint32(len(r.SegmentRootLookup)+len(r.Context.Prerequisites)) > p.MaxDependencies {
		return ErrTooManyDependencies
	}
	return nil
}

func checkSlot(reportSlot, currentSlot uint32, p *params.Profile) error {
	if reportSlot > currentSlot {
		return ErrFutureReportSlot
	}
	var lastRotationFloor uint32
	if currentSlot/p.RotationPeriod >= 1 {
		lastRotationFloor = (currentSlot/p.RotationPeriod - 1) * p.RotationPeriod
	}
	if reportSlot < lastRotationFloor {
		return ErrReportEpochBeforeLast
	}
	return nil
}

func checkAnchor(s *state.Staged, ctx *state.RefinementContext) error {
	entry, ok := recenthistory.FindAnchor(s, ctx.Anchor)
	if !ok {
		return ErrAnchorNotRecent
	}
	if entry.StateRoot != ctx.AnchorStateRoot {
		return ErrBadStateRoot
	}
	if entry.BeefyMMRRoot != ctx.AnchorBeefyRoot {
		return ErrBadBeefyMmrRoot
	}
	return nil
}

func checkSignatures(s *state.Staged, d Deps, g block.Guarantee, p *params.Profile) ([]state.ValidatorIndex, error) {
	n := len(g.Signatures)
	if n < 2 {
		return nil, ErrInsufficientGuarantees
	}
	if n > 3 {
		return nil, ErrTooManyGuarantees
	}

	priorRotation := g.Slot < (currentSlotFromStaged(s)/p.RotationPeriod)*p.RotationPeriod
	assigned := d.Assignments(g.Report.CoreIndex, priorRotation)
	assignedSet := make(map[state.ValidatorIndex]struct{}, len(assigned))
	for _, idx := range assigned {
		assignedSet[idx] = struct{}{}
	}

	message, err := codec.GuaranteeSigningMessage(d.Codec, &g.Report)
	if err != nil {
		return nil, err
	}

	reporters := make([]state.ValidatorIndex, 0, n)
	var lastIdx int64 = -1
	for _, sig := range g.Signatures {
		if int64(sig.ValidatorIndex) <= lastIdx {
			return nil, ErrNotSortedOrUniqueGuarantors
		}
		lastIdx = int64(sig.ValidatorIndex)

		if uint32(sig.ValidatorIndex) >= p.ValidatorCount {
			return nil, ErrBadValidatorIndex
		}
		if _, ok := assignedSet[sig.ValidatorIndex]; !ok {
			return nil, ErrWrongAssignment
		}
		pub, ok := d.ValidatorKey(sig.ValidatorIndex)
		if !ok {
			return nil, ErrBadValidatorIndex
		}
		if !ed25519.Verify(ed25519.PublicKey(pub[:]), message, sig.Signature[:]) {
			return nil, ErrBadSignature
		}
		reporters = append(reporters, sig.ValidatorIndex)
	}
	return reporters, nil
}

func currentSlotFromStaged(s *state.Staged) uint32 {
	return s.Tau().Slot
}

func checkResults(d Deps, r *state.WorkReport) error {
	for _, res := range r.Results {
		codeHash, minGas, ok := d.Services.Lookup(res.ServiceID)
		if !ok {
			return ErrBadServiceId
		}
		if codeHash != res.CodeHash {
			return ErrBadCodeHash
		}
		if res.AccumulateGas < minGas {
			return ErrServiceItemGasTooLow
		}
	}
	return nil
}

func checkDependencies(s *state.Staged, r *state.WorkReport, extrinsic []block.Guarantee) error {
	available := func(h state.Hash) bool {
		if recenthistory.ContainsPackage(s, h) {
			return true
		}
		for _, g := range extrinsic {
			if g.Report.PackageSpec.PackageHash == h {
				return true
			}
		}
		return false
	}

	for _, dep := range r.Context.Prerequisites {
		if !available(dep) {
			return ErrDependencyMissing
		}
	}
	for _, lookup := range r.SegmentRootLookup {
		if !available(lookup) {
			return ErrSegmentRootLookupInvalid
		}
	}
	return nil
}

func checkCoreAvailability(s *state.Staged, p *params.Profile, slot uint32, core state.CoreIndex) error {
	rho := s.Rho()
	occupant := rho.Cores[core]
	if occupant == nil {
		return nil
	}
	if slot >= occupant.TimeoutSlot && slot-occupant.TimeoutSlot >= p.WorkReplacementPeriod() {
		return nil
	}
	return ErrCoreEngaged
}

func checkAuthorizer(s *state.Staged, core state.CoreIndex, authorizer state.Hash) error {
	alpha := s.Alpha()
	for _, h := range alpha.Pools[core] {
		if h == authorizer {
			return nil
		}
	}
	return ErrCoreUnauthorized
}
