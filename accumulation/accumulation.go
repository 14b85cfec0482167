// Package accumulation implements spec.md §4.7: dependency-ordered
// selection of ready work reports, PVM dispatch per service, deferred
// transfer settlement, and the ξ/θ bookkeeping plus accumulate-root
// computation that follow.
//
// Grounded on the teacher's epoch-processing ordering (beacon-kit's
// processEpoch calling a fixed sequence of sub-passes over a working
// set) generalized to a fixpoint dependency resolution, and on the
// venus conformance-driver's "drain a worklist until no progress" idiom
// for the same fixpoint shape.
package accumulation

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/jamzig/statecore/authorization"
	"github.com/jamzig/statecore/codec"
	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/pvm"
	"github.com/jamzig/statecore/state"
)

var ErrUnknownService = errors.New("accumulation: report result references an account missing from delta")

// HostViewFactory builds the restricted host-access view a PVM
// invocation for serviceID is allowed to read.
type HostViewFactory func(serviceID state.ServiceID) pvm.HostAccessView

// Deps bundles the collaborators an accumulation round needs.
type Deps struct {
	Collaborator pvm.Collaborator
	HostViews    HostViewFactory
	Codec        codec.Codec
}

// entry is one report still being tracked through partitioning,
// dependency filtering, and fixpoint selection.
type entry struct {
	report *state.WorkReport
	deps   map[state.Hash]struct{}
}

// Stats summarizes one Run call's PVM dispatch, for the orchestrator to
// fold into π (validatorstats.RecordServiceAccumulation et al.) without
// this package depending on validatorstats.
type Stats struct {
	ConsumedPackages []state.Hash
	GasByService     map[state.ServiceID]uint64
}

// Run executes one block's accumulation round: partitions the ready set,
// merges it with θ, filters against ξ, resolves the dependency fixpoint,
// dispatches the PVM, settles deferred transfers, updates ξ/θ, and
// returns the block's accumulate root.
func Run(ctx context.Context, s *state.Staged, p *params.Profile, d Deps, ready []state.WorkReport, slotInEpoch uint32, currentSlot, priorSlot uint32) (state.Hash, Stats, error) {
	xi := s.Xi()
	theta := s.Theta()

	pending := collectPending(theta, ready, slotInEpoch, xi)

	selected := resolveFixpoint(pending)
	if len(selected) == 0 {
		updateThetaAndXi(s, p, pending, nil, currentSlot, priorSlot)
		return state.Hash{}, Stats{}, nil
	}

	gasBudget := gasBudgetFor(p, s.Chi())

	invoked, gasByService, err := dispatch(ctx, s, d, selected, gasBudget)
	if err != nil {
		return state.Hash{}, Stats{}, err
	}

	consumedHashes := make([]state.Hash, 0, len(invoked))
	for _, r := range invoked {
		consumedHashes = append(consumedHashes, r.report.PackageSpec.PackageHash)
	}
	updateThetaAndXi(s, p, pending, consumedHashes, currentSlot, priorSlot)

	root, err := computeAccumulateRoot(invoked)
	return root, Stats{ConsumedPackages: consumedHashes, GasByService: gasByService}, err
}

// collectPending partitions the newly-ready reports into immediate vs
// queued, merges in θ's epoch-aligned backlog, and filters everything
// against ξ (spec.md §4.7 paragraph 2).
func collectPending(theta *state.Theta, ready []state.WorkReport, slotInEpoch uint32, xi *state.Xi) []entry {
	var pending []entry

	for i := range ready {
		r := &ready[i]
		if xi.Contains(r.PackageSpec.PackageHash) {
			continue
		}
		deps := depSet(r, xi)
		pending = append(pending, entry{report: r, deps: deps})
	}

	n := uint32(len(theta.Positions))
	if n > 0 {
		for offset := uint32(0); offset < n; offset++ {
			pos := (slotInEpoch + offset) % n
			for _, qr := range theta.Positions[pos] {
				if xi.Contains(qr.Report.PackageSpec.PackageHash) {
					continue
				}
				deps := make(map[state.Hash]struct{}, len(qr.UnresolvedDependencies))
				for h := range qr.UnresolvedDependencies {
					if !xi.Contains(h) {
						deps[h] = struct{}{}
					}
				}
				pending = append(pending, entry{report: qr.Report, deps: deps})
			}
		}
	}

	return pending
}

// depSet builds a report's unresolved-dependency set from its
// prerequisites and segment-root lookups, dropping anything ξ already
// accumulated.
func depSet(r *state.WorkReport, xi *state.Xi) map[state.Hash]struct{} {
	deps := make(map[state.Hash]struct{}, len(r.Context.Prerequisites)+len(r.SegmentRootLookup))
	for _, h := range r.Context.Prerequisites {
		if !xi.Contains(h) {
			deps[h] = struct{}{}
		}
	}
	for _, h := range r.SegmentRootLookup {
		if !xi.Contains(h) {
			deps[h] = struct{}{}
		}
	}
	return deps
}

// resolveFixpoint implements spec.md §4.7's three-step iteration:
// repeatedly move zero-dependency entries into the accumulatable list
// and strip their package hashes from every remaining entry's
// dependency set, until no further progress is made.
func resolveFixpoint(pending []entry) []entry {
	remaining := append([]entry(nil), pending...)
	var selected []entry

	for {
		var readyNow []entry
		var stillPending []entry
		for _, e := range remaining {
			if len(e.deps) == 0 {
				readyNow = append(readyNow, e)
			} else {
				stillPending = append(stillPending, e)
			}
		}
		if len(readyNow) == 0 {
			break
		}

		resolvedHashes := make(map[state.Hash]struct{}, len(readyNow))
		for _, e := range readyNow {
			resolvedHashes[e.report.PackageSpec.PackageHash] = struct{}{}
		}
		for _, e := range stillPending {
			for h := range resolvedHashes {
				delete(e.deps, h)
			}
		}

		selected = append(selected, readyNow...)
		remaining = stillPending
	}

	return selected
}

// gasBudgetFor computes g = max(G_T, G_A*C + Σ χ.always_accumulate).
func gasBudgetFor(p *params.Profile, chi *state.Chi) uint64 {
	sum := p.PerCoreGas * uint64(p.CoreCount)
	for _, g := range chi.AlwaysAccumulate {
		sum += g
	}
	if p.TotalGasAccumulation > sum {
		return p.TotalGasAccumulation
	}
	return sum
}

// invokedReport pairs a consumed report with the per-service digests the
// PVM produced for it, for accumulate-root computation.
type invokedReport struct {
	report  *state.WorkReport
	digests map[state.ServiceID]state.Hash
}

// dispatch executes accumulatable reports in order against the PVM
// collaborator, stopping once the gas budget is exhausted (spec.md
// §4.7: "the number of reports actually consumed may be less than
// offered if gas exhausted mid-sequence"), and applies every consumed
// report's state updates and deferred transfers.
func dispatch(ctx context.Context, s *state.Staged, d Deps, selected []entry, gasBudget uint64) ([]invokedReport, map[state.ServiceID]uint64, error) {
	var invoked []invokedReport
	var transfers []pvm.DeferredTransfer
	var spent uint64
	gasByService := make(map[state.ServiceID]uint64)

	chi := s.ChiMut()
	delta := s.DeltaMut()

	for _, e := range selected {
		digests := make(map[state.ServiceID]state.Hash, len(e.report.Results))
		consumedAny := false

		for _, res := range e.report.Results {
			acc, ok := delta.Accounts[res.ServiceID]
			if !ok {
				return invoked, gasByService, ErrUnknownService
			}

			credit := chi.AlwaysAccumulate[res.ServiceID]
			limit := res.AccumulateGas + credit
			if spent+limit > gasBudget {
				break
			}

			result, err := d.Collaborator.Invoke(ctx, res.ServiceID, pvm.EntryAccumulate, limit, res.Output, d.HostViews(res.ServiceID))
			if err != nil {
				return invoked, gasByService, errors.Wrapf(err, "accumulate invoke for service %d", res.ServiceID)
			}
			spent += result.GasConsumed
			gasByService[res.ServiceID] += result.GasConsumed
			applyStateUpdates(s, chi, delta, acc, result.StateUpdates)
			transfers = append(transfers, result.DeferredTransfers...)
			digests[res.ServiceID] = result.OutputDigest
			consumedAny = true
		}

		if !consumedAny {
			break
		}
		invoked = append(invoked, invokedReport{report: e.report, digests: digests})
	}

	if err := settleTransfers(ctx, s, d, delta, transfers); err != nil {
		return invoked, gasByService, err
	}
	return invoked, gasByService, nil
}

// applyStateUpdates folds one PVM invocation's StateUpdates into σ.
func applyStateUpdates(s *state.Staged, chi *state.Chi, delta *state.Delta, acc *state.ServiceAccount, u pvm.StateUpdates) {
	for id, delta64 := range u.ServiceBalanceDelta {
		if target, ok := delta.Accounts[id]; ok {
			target.Balance = addSigned(target.Balance, delta64)
		}
	}
	for id, codeHash := range u.NewCode {
		if target, ok := delta.Accounts[id]; ok {
			target.CodeHash = codeHash
		}
	}
	for core, hashes := range u.QueuedAuthorizers {
		for _, h := range hashes {
			authorization.Enqueue(s, core, h)
		}
	}
	if u.PrivilegeChanges != nil {
		*chi = *u.PrivilegeChanges
	}
	if u.DesignatedValidators != nil {
		s.IotaMut().Set = u.DesignatedValidators.Clone()
	}
	_ = acc
}

func addSigned(balance uint64, delta int64) uint64 {
	if delta < 0 && uint64(-delta) > balance {
		return 0
	}
	if delta < 0 {
		return balance - uint64(-delta)
	}
	return balance + uint64(delta)
}

// settleTransfers groups deferred transfers by destination and invokes
// the on-transfer entrypoint once per destination, per spec.md §4.7
// paragraph "Deferred transfers".
func settleTransfers(ctx context.Context, s *state.Staged, d Deps, delta *state.Delta, transfers []pvm.DeferredTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	byDest := make(map[state.ServiceID][]pvm.DeferredTransfer)
	for _, t := range transfers {
		byDest[t.To] = append(byDest[t.To], t)
	}

	dests := make([]state.ServiceID, 0, len(byDest))
	for id := range byDest {
		dests = append(dests, id)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	for _, dest := range dests {
		group := byDest[dest]
		var gas uint64
		for _, t := range group {
			gas += t.Gas
			target, ok := delta.Accounts[dest]
			if ok {
				target.Balance += t.Amount
			}
		}
		if _, ok := delta.Accounts[dest]; !ok {
			continue
		}
		input := encodeTransferGroup(group)
		if _, err := d.Collaborator.Invoke(ctx, dest, pvm.EntryOnTransfer, gas, input, d.HostViews(dest)); err != nil {
			return errors.Wrapf(err, "on-transfer invoke for service %d", dest)
		}
	}
	return nil
}

func encodeTransferGroup(group []pvm.DeferredTransfer) []byte {
	var out []byte
	for _, t := range group {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(t.From))
		out = append(out, buf[:]...)
	}
	return out
}

// updateThetaAndXi implements spec.md §4.7's ξ.shift_down and θ update
// rules.
func updateThetaAndXi(s *state.Staged, p *params.Profile, pending []entry, consumed []state.Hash, currentSlot, priorSlot uint32) {
	xiMut := s.XiMut()
	n := uint32(len(xiMut.Slots))
	if n > 0 {
		xiMut.Slots = append(xiMut.Slots[1:], consumed)
		for uint32(len(xiMut.Slots)) < n {
			xiMut.Slots = append(xiMut.Slots, nil)
		}
	}

	consumedSet := make(map[state.Hash]struct{}, len(consumed))
	for _, h := range consumed {
		consumedSet[h] = struct{}{}
	}

	stillQueued := make([]state.QueuedReport, 0, len(pending))
	for _, e := range pending {
		if _, done := consumedSet[e.report.PackageSpec.PackageHash]; done {
			continue
		}
		if len(e.deps) == 0 {
			continue
		}
		stillQueued = append(stillQueued, state.QueuedReport{Report: e.report, UnresolvedDependencies: e.deps})
	}

	thetaMut := s.ThetaMut()
	positions := uint32(len(thetaMut.Positions))
	if positions == 0 {
		return
	}

	// Computed from absolute slots, not slot-in-epoch: on an epoch-
	// boundary block slotInEpoch wraps back near 0 while priorSlotInEpoch
	// sits near EpochLength-1, which would underflow a mod'd subtraction.
	// currentSlot > priorSlot always holds (jamtime.Advance rejects a
	// non-increasing header slot), so this never wraps.
	gap := currentSlot - priorSlot
	for i := uint32(0); i < positions; i++ {
		switch {
		case i == 0:
			thetaMut.Positions[i] = stillQueued
		case i < gap:
			thetaMut.Positions[i] = nil
		default:
			thetaMut.Positions[i] = reapplyDependencyEdits(thetaMut.Positions[i], consumedSet)
		}
	}
}

// reapplyDependencyEdits strips newly-resolved hashes from the
// remaining θ entries at a position beyond the slot gap, and drops any
// entry left with no dependencies (spec.md §4.7's "re-apply the
// queue-editing to existing θ entries and drop reports whose dependency
// set is empty").
func reapplyDependencyEdits(entries []state.QueuedReport, resolved map[state.Hash]struct{}) []state.QueuedReport {
	out := make([]state.QueuedReport, 0, len(entries))
	for _, qr := range entries {
		for h := range resolved {
			delete(qr.UnresolvedDependencies, h)
		}
		if len(qr.UnresolvedDependencies) == 0 {
			continue
		}
		out = append(out, qr)
	}
	return out
}

// computeAccumulateRoot builds the block's accumulate root: sort
// invoked service ids ascending, concatenate each id's 4-byte
// little-endian encoding with its 32-byte output digest, and feed the
// blobs into a binary Keccak-256 Merkle tree (spec.md §4.7 closing
// paragraph).
func computeAccumulateRoot(invoked []invokedReport) (state.Hash, error) {
	byService := make(map[state.ServiceID]state.Hash)
	for _, r := range invoked {
		for id, digest := range r.digests {
			byService[id] = digest
		}
	}
	if len(byService) == 0 {
		return state.Hash{}, nil
	}

	ids := make([]state.ServiceID, 0, len(byService))
	for id := range byService {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	leaves := make([][32]byte, 0, len(ids))
	for _, id := range ids {
		le := codec.LittleEndianServiceID(id)
		digest := byService[id]
		h := sha3.NewLegacyKeccak256()
		h.Write(le[:])
		h.Write(digest[:])
		var leaf [32]byte
		copy(leaf[:], h.Sum(nil))
		leaves = append(leaves, leaf)
	}

	return state.Hash(merkleize(leaves)), nil
}

func merkleize(level [][32]byte) [32]byte {
	if len(level) == 0 {
		return [32]byte{}
	}
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			h := sha3.NewLegacyKeccak256()
			h.Write(level[2*i][:])
			h.Write(level[2*i+1][:])
			copy(next[i][:], h.Sum(nil))
		}
		level = next
	}
	return level[0]
}
