// Package validatorstats implements the π counters of spec.md §4.12:
// per-validator, per-core, and per-service block-activity counters,
// reset at every epoch boundary.
//
// Grounded on beacon-kit's metrics-sink pattern (stateProcessorMetrics):
// the state transition itself only mutates plain counter structs; a
// separate TelemetrySink observes the result and is free to forward it
// to whatever the embedding node's observability stack expects.
package validatorstats

import (
	"github.com/sirupsen/logrus"

	"github.com/jamzig/statecore/state"
)

// NewEpoch allocates a fresh π sized for validatorCount/coreCount, all
// counters zeroed — the state a Staged's π component takes at genesis or
// at an epoch boundary (spec.md §4.12: "per-block counters are reset at
// epoch boundary").
func NewEpoch(validatorCount, coreCount uint32) *state.Pi {
	return &state.Pi{
		Validators: make([]state.ValidatorCounters, validatorCount),
		Cores:      make([]state.CoreCounters, coreCount),
		Services:   make(map[state.ServiceID]state.ServiceCounters),
	}
}

// ResetEpoch zeroes an existing π's counters in place, preserving its
// validator/core cardinality. Called by the orchestrator immediately
// before processing the first block of a new epoch.
func ResetEpoch(pi *state.Pi) {
	for i := range pi.Validators {
		pi.Validators[i] = state.ValidatorCounters{}
	}
	for i := range pi.Cores {
		pi.Cores[i] = state.CoreCounters{}
	}
	pi.Services = make(map[state.ServiceID]state.ServiceCounters)
}

// RecordBlockAuthor increments the author's proposed-block count.
func RecordBlockAuthor(pi *state.Pi, idx state.ValidatorIndex) {
	pi.Validators[idx].BlocksProposed++
}

// RecordTicketsSubmitted credits idx with n ticket submissions accepted
// this block.
func RecordTicketsSubmitted(pi *state.Pi, idx state.ValidatorIndex, n uint64) {
	pi.Validators[idx].TicketsSubmitted += n
}

// RecordPreimageProvided credits idx with one preimage of the given
// length provided this block.
func RecordPreimageProvided(pi *state.Pi, idx state.ValidatorIndex, length uint64) {
	pi.Validators[idx].PreimagesProvided++
	pi.Validators[idx].PreimageBytes += length
}

// RecordGuaranteesSigned credits every reporter named in an accepted
// guarantee.
func RecordGuaranteesSigned(pi *state.Pi, reporters []state.ValidatorIndex) {
	for _, idx := range reporters {
		pi.Validators[idx].GuaranteesSigned++
	}
}

// RecordAssurancesSigned credits every validator whose assurance
// bitfield was counted this block.
func RecordAssurancesSigned(pi *state.Pi, signers []state.ValidatorIndex) {
	for _, idx := range signers {
		pi.Validators[idx].AssurancesSigned++
	}
}

// CoreActivity is one core's per-block contribution, gathered by the
// orchestrator from the reports/assurances/accumulation sub-transitions.
type CoreActivity struct {
	BytesInput  uint64
	BytesOutput uint64
	ReportCount uint64
	Imports     uint64
	Exports     uint64
	GasUsed     uint64
}

// RecordCore accumulates one core's activity into its running counters.
func RecordCore(pi *state.Pi, core state.CoreIndex, a CoreActivity) {
	c := &pi.Cores[core]
	c.BytesInput += a.BytesInput
	c.BytesOutput += a.BytesOutput
	c.ReportCount += a.ReportCount
	c.Imports += a.Imports
	c.Exports += a.Exports
	c.GasUsed += a.GasUsed
}

// RecordServiceAccumulation credits one service with an accumulation
// invocation and its gas usage.
func RecordServiceAccumulation(pi *state.Pi, id state.ServiceID, gasUsed uint64) {
	sc := pi.Services[id]
	sc.AccumulationCount++
	sc.GasUsed += gasUsed
	pi.Services[id] = sc
}

// RecordServiceTransfer credits one service with a received deferred
// transfer and the gas its on-transfer entrypoint consumed.
func RecordServiceTransfer(pi *state.Pi, id state.ServiceID, gasUsed uint64) {
	sc := pi.Services[id]
	sc.TransfersReceived++
	sc.OnTransferGas += gasUsed
	pi.Services[id] = sc
}

// TelemetrySink observes a block's resulting π without being able to
// influence the transition — the counters are already final by the time
// a sink sees them. The statetransition orchestrator holds one and calls
// Observe once per processed block.
type TelemetrySink interface {
	Observe(slot uint32, pi *state.Pi)
}

// LogrusSink is a TelemetrySink that logs a summary line per block,
// mirroring beacon-kit's logger-backed metrics sink for deployments that
// have no dedicated metrics backend wired up.
type LogrusSink struct {
	Logger logrus.FieldLogger
}

func (l LogrusSink) Observe(slot uint32, pi *state.Pi) {
	if l.Logger == nil {
		return
	}
	var totalGuarantees, totalAssurances, totalTickets uint64
	for _, v := range pi.Validators {
		totalGuarantees += v.GuaranteesSigned
		totalAssurances += v.AssurancesSigned
		totalTickets += v.TicketsSubmitted
	}
	l.Logger.WithFields(logrus.Fields{
		"slot":             slot,
		"guarantees_total": totalGuarantees,
		"assurances_total": totalAssurances,
		"tickets_total":    totalTickets,
		"services_active":  len(pi.Services),
	}).Info("validator stats recorded")
}
