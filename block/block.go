// Package block defines the wire-level shapes the state transition
// consumes: the unsigned header, its seal/entropy-source fields, and the
// six extrinsics (tickets, preimages, guarantees, assurances, verdicts,
// culprits/faults).
//
// These are plain value types; their canonical byte encoding is the
// codec collaborator's contract (see package codec), not this package's
// concern (spec.md §6).
package block

import (
	"github.com/jamzig/statecore/internal/vrf"
	"github.com/jamzig/statecore/state"
)

// Header is one block's unsigned-plus-seal header.
type Header struct {
	Parent           state.Hash
	ParentStateRoot  state.Hash
	ExtrinsicHash    state.Hash
	Slot             uint32
	AuthorIndex      uint32
	EntropySource    vrf.Proof // Bandersnatch VRF signature over empty message
	Seal             vrf.Proof // Bandersnatch VRF signature over the unsigned header
	EpochMark        *EpochMark
	TicketsMark      []state.Ticket
	OffendersMark    []state.Ed25519Pub
}

// EpochMark is present iff the block is the first of a new epoch.
type EpochMark struct {
	Entropy        state.Hash
	TicketsEntropy state.Hash
	Validators     []state.BandersnatchPub
}

// TicketExtrinsic is one ticket-lottery submission.
type TicketExtrinsic struct {
	Attempt uint8
	Proof   vrf.Proof
}

// PreimageExtrinsic provides one service's preimage bytes.
type PreimageExtrinsic struct {
	ServiceID state.ServiceID
	Data      []byte
}

// GuaranteeSignature is one guarantor's signature over a report.
type GuaranteeSignature struct {
	ValidatorIndex state.ValidatorIndex
	Signature      [64]byte
}

// Guarantee is one {report, slot, signatures} triple.
type Guarantee struct {
	Report     state.WorkReport
	Slot       uint32
	Signatures []GuaranteeSignature
}

// Assurance is one validator's per-block availability attestation.
type Assurance struct {
	ValidatorIndex state.ValidatorIndex
	Bitfield       []bool // len == CoreCount
	Signature      [64]byte
}

// Verdict records a dispute-resolution outcome for one work-report hash.
type Verdict struct {
	ReportHash state.Hash
	EpochIndex uint32
	Judgements []bool // true == "valid", per-validator
}

// Culprit names a validator who guaranteed a report the disputes process
// found bad.
type Culprit struct {
	ReportHash state.Hash
	Validator  state.Ed25519Pub
	Signature  [64]byte
}

// Fault names a validator who attested availability of a report the
// disputes process found bad.
type Fault struct {
	ReportHash state.Hash
	Validator  state.Ed25519Pub
	WasValid   bool
	Signature  [64]byte
}

// Extrinsics bundles the six per-block extrinsic sequences.
type Extrinsics struct {
	Tickets    []TicketExtrinsic
	Preimages  []PreimageExtrinsic
	Guarantees []Guarantee
	Assurances []Assurance
	Verdicts   []Verdict
	Culprits   []Culprit
	Faults     []Fault
}

// Block is a header plus its extrinsics.
type Block struct {
	Header     Header
	Extrinsics Extrinsics
}
