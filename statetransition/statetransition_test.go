package statetransition

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/jamzig/statecore/accumulation"
	"github.com/jamzig/statecore/block"
	"github.com/jamzig/statecore/codec"
	"github.com/jamzig/statecore/internal/vrf"
	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/pvm"
	"github.com/jamzig/statecore/reports"
	"github.com/jamzig/statecore/state"
)

// fakeCodec gives every header a short, deterministic unsigned encoding
// and reports a deterministic length-prefixed encoding, enough to
// exercise hashing and signature-message construction without a real
// canonical serializer (spec.md §6 leaves the wire format external).
type fakeCodec struct{}

func (fakeCodec) MarshalHeader(h *block.Header) ([]byte, error) {
	return fakeCodec{}.MarshalUnsignedHeader(h)
}

func (fakeCodec) MarshalUnsignedHeader(h *block.Header) ([]byte, error) {
	buf := make([]byte, 0, 40)
	buf = append(buf, h.Parent[:]...)
	var slotBuf [4]byte
	binary.LittleEndian.PutUint32(slotBuf[:], h.Slot)
	buf = append(buf, slotBuf[:]...)
	buf = append(buf, byte(h.AuthorIndex))
	return buf, nil
}

func (fakeCodec) MarshalReport(r *state.WorkReport) ([]byte, error) {
	return append([]byte(nil), r.PackageSpec.PackageHash[:]...), nil
}

func (fakeCodec) MarshalStateDict(dict map[[31]byte][]byte) ([]byte, error) { return nil, nil }

type vrfSigner interface {
	Prove(context, message []byte) (vrf.Proof, [32]byte)
	Public() vrf.PublicKey
}

func seed(b byte) []byte {
	s := make([]byte, 32)
	for i := range s {
		s[i] = b
	}
	return s
}

func makeValidators(t *testing.T, n int) (state.ValidatorSet, []vrfSigner) {
	t.Helper()
	set := make(state.ValidatorSet, n)
	signers := make([]vrfSigner, n)
	for i := 0; i < n; i++ {
		signer, err := vrf.NewSigner(seed(byte(i + 1)))
		require.NoError(t, err)
		set[i] = state.Validator{Bandersnatch: state.BandersnatchPub(signer.Public()), Ed25519: state.Ed25519Pub(signer.Public())}
		signers[i] = signer
	}
	return set, signers
}

// deriveFallbackAuthor duplicates safrole's unexported derivation so this
// package's tests can build a correctly-sealed fallback header without
// reaching into an unexported symbol across package boundaries.
func deriveFallbackAuthor(eta2 state.Hash, slotInEpoch, validatorCount uint32) uint32 {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], slotInEpoch)
	input := append(append([]byte(nil), eta2[:]...), buf[:]...)
	h := blake2b.Sum256(input)
	return binary.LittleEndian.Uint32(h[:4]) % validatorCount
}

func fallbackSignedHeader(t *testing.T, signers []vrfSigner, slotInEpoch uint32, eta [4]state.Hash, validatorCount uint32, slot uint32) *block.Header {
	t.Helper()
	author := deriveFallbackAuthor(eta[2], slotInEpoch, validatorCount)
	h := &block.Header{Slot: slot, AuthorIndex: author}

	msg, err := fakeCodec{}.MarshalUnsignedHeader(h)
	require.NoError(t, err)

	sealCtx := append([]byte("jam_fallback_seal"), eta[3][:]...)
	sealProof, sealOut := signers[author].Prove(sealCtx, msg)
	h.Seal = sealProof

	entropyCtx := append([]byte("jam_entropy"), sealOut[:]...)
	entropyProof, _ := signers[author].Prove(entropyCtx, nil)
	h.EntropySource = entropyProof
	return h
}

func tinyContainer(p *params.Profile, set state.ValidatorSet) *state.Container {
	pools := make([][]state.Hash, p.CoreCount)
	queues := make([][]state.Hash, p.CoreCount)
	return &state.Container{
		Alpha:  &state.Alpha{Pools: pools},
		Beta:   &state.Beta{},
		Gamma:  &state.Gamma{K: set.Clone(), Mode: state.GammaModeFallback},
		Delta:  &state.Delta{Accounts: map[state.ServiceID]*state.ServiceAccount{}},
		Eta:    &state.Eta{},
		Iota:   &state.Validators{Set: set.Clone()},
		Kappa:  &state.Validators{Set: set.Clone()},
		Lambda: &state.Validators{Set: set.Clone()},
		Rho:    &state.Rho{Cores: make([]*state.PendingReport, p.CoreCount)},
		Tau:    &state.Tau{},
		Phi:    &state.Phi{Queues: queues},
		Chi:    &state.Chi{AlwaysAccumulate: map[state.ServiceID]uint64{}},
		Psi: &state.Psi{
			Good: map[state.Hash]struct{}{}, Bad: map[state.Hash]struct{}{},
			Wonky: map[state.Hash]struct{}{}, Offenders: map[state.Ed25519Pub]struct{}{},
		},
		Pi:    &state.Pi{Validators: make([]state.ValidatorCounters, p.ValidatorCount), Cores: make([]state.CoreCounters, p.CoreCount), Services: map[state.ServiceID]state.ServiceCounters{}},
		Xi:    &state.Xi{Slots: make([][]state.Hash, p.EpochLength)},
		Theta: &state.Theta{Positions: make([][]state.QueuedReport, p.EpochLength)},
	}
}

type noopCollaborator struct{}

func (noopCollaborator) Invoke(context.Context, state.ServiceID, pvm.EntryPoint, uint64, []byte, pvm.HostAccessView) (pvm.Result, error) {
	return pvm.Result{}, nil
}

func noViews(state.ServiceID) pvm.HostAccessView { return nil }

func accumulationDeps() accumulation.Deps {
	return accumulation.Deps{Collaborator: noopCollaborator{}, HostViews: noViews, Codec: fakeCodec{}}
}

func TestScenario_FallbackEmpty(t *testing.T) {
	p := params.Tiny()
	set, signers := makeValidators(t, int(p.ValidatorCount))

	base := tinyContainer(p, set)
	accDeps := accumulationDeps()
	tr := &Transitioner{Params: p, Deps: Deps{Codec: fakeCodec{}, VRFVerifier: vrf.StandInVerifier{}, Accumulation: accDeps}}

	var eta [4]state.Hash
	eta[2] = state.Hash{9}
	eta[3] = state.Hash{3}
	base.Eta.Values = eta

	header := fallbackSignedHeader(t, signers, 1, eta, p.ValidatorCount, 1)

	out, err := tr.Transition(context.Background(), base, &block.Block{Header: *header})
	require.NoError(t, err)
	require.Equal(t, uint32(1), out.Tau.Slot)
	require.NotEqual(t, state.Hash{}, out.Eta.Values[0])
	require.Len(t, out.Beta.Entries, 1)
}

// TestScenario_TicketContestEpochRotation drives the orchestrator across
// an epoch boundary with γ.a already holding a full contest's worth of
// tickets (accumulated over the ending epoch's prior blocks), checking
// that the header validates in ticket mode against γ.k's sealing set,
// and that the rotation lands κ/γ in their post-AdvanceEpoch state with
// π reset for the new epoch.
func TestScenario_TicketContestEpochRotation(t *testing.T) {
	p := params.Tiny()
	set, signers := makeValidators(t, int(p.ValidatorCount))

	const authorIdx = 0
	base := tinyContainer(p, set)
	base.Gamma.K = set.Clone()
	base.Gamma.Mode = state.GammaModeTickets
	base.Iota.Set = set.Clone()
	base.Tau.Slot = 2*p.EpochLength - 1

	var eta [4]state.Hash
	eta[2] = state.Hash{4}
	base.Eta.Values = eta

	base.Pi.Validators[authorIdx] = state.ValidatorCounters{BlocksProposed: 7}

	header := &block.Header{Slot: 2 * p.EpochLength, AuthorIndex: authorIdx, EpochMark: &block.EpochMark{}}
	msg, err := fakeCodec{}.MarshalUnsignedHeader(header)
	require.NoError(t, err)

	sealCtx := append(append([]byte("jam_ticket_seal"), eta[2][:]...), byte(0))
	sealProof, sealOut := signers[authorIdx].Prove(sealCtx, msg)
	header.Seal = sealProof

	entropyCtx := append([]byte("jam_entropy"), sealOut[:]...)
	entropyProof, _ := signers[authorIdx].Prove(entropyCtx, nil)
	header.EntropySource = entropyProof

	winningTicket := state.Ticket{ID: state.Hash(sealOut), Attempt: 0}
	tickets := make([]state.Ticket, p.EpochLength)
	tickets[0] = winningTicket
	for i := 1; i < len(tickets); i++ {
		var id state.Hash
		for j := range id {
			id[j] = 0xFF
		}
		tickets[i] = state.Ticket{ID: id, Attempt: 0}
	}
	base.Gamma.A = tickets

	accDeps := accumulationDeps()
	tr := &Transitioner{Params: p, Deps: Deps{Codec: fakeCodec{}, VRFVerifier: vrf.StandInVerifier{}, Accumulation: accDeps}}

	out, err := tr.Transition(context.Background(), base, &block.Block{Header: *header})
	require.NoError(t, err)
	require.Equal(t, 2*p.EpochLength, out.Tau.Slot)
	require.Equal(t, state.GammaModeTickets, out.Gamma.Mode)
	require.Equal(t, set, out.Kappa.Set)
	require.Empty(t, out.Gamma.A)
	require.Equal(t, uint64(1), out.Pi.Validators[authorIdx].BlocksProposed)
}

// TestScenario_GuaranteeHappyPath drives a single well-formed guarantee
// for one core through the full orchestrator: anchor lookup, guarantor
// assignment and signature verification, authorizer pool check, and the
// ρ/β/π bookkeeping that follows a successfully accepted report.
func TestScenario_GuaranteeHappyPath(t *testing.T) {
	p := params.Tiny()
	set, signers := makeValidators(t, int(p.ValidatorCount))

	guarantorPriv := make([]ed25519.PrivateKey, p.ValidatorCount)
	for i := range set {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		set[i].Ed25519 = state.Ed25519Pub(pub)
		guarantorPriv[i] = priv
	}

	base := tinyContainer(p, set)

	authorizerHash := state.Hash{7}
	base.Alpha.Pools[0] = []state.Hash{authorizerHash}

	anchorHeaderHash := state.Hash{1}
	anchorBeefyRoot := state.Hash{5}
	base.Beta.Entries = []state.BlockDescriptor{{HeaderHash: anchorHeaderHash, BeefyMMRRoot: anchorBeefyRoot}}

	base.Delta.Accounts[1] = &state.ServiceAccount{CodeHash: state.Hash{9}, MinGasAccumulate: 0}

	var eta [4]state.Hash
	eta[2] = state.Hash{9}
	eta[3] = state.Hash{3}
	base.Eta.Values = eta

	header := fallbackSignedHeader(t, signers, 1, eta, p.ValidatorCount, 1)

	parentStateRoot := state.Hash{8}
	header.ParentStateRoot = parentStateRoot

	report := state.WorkReport{
		CoreIndex:   0,
		PackageSpec: state.PackageSpec{PackageHash: state.Hash{42}},
		Context: state.RefinementContext{
			Anchor:          anchorHeaderHash,
			AnchorStateRoot: parentStateRoot,
			AnchorBeefyRoot: anchorBeefyRoot,
		},
		Results:        []state.WorkResult{{ServiceID: 1, CodeHash: state.Hash{9}, AccumulateGas: 10}},
		AuthorizerHash: authorizerHash,
	}

	msg, err := codec.GuaranteeSigningMessage(fakeCodec{}, &report)
	require.NoError(t, err)

	// Rotation offset for slot 1 is 0, so validator i is assigned to
	// core (i+0)%CoreCount — validators 0, 2, 4 are assigned to core 0
	// (see assignmentFor).
	sign := func(idx state.ValidatorIndex) block.GuaranteeSignature {
		sig := ed25519.Sign(guarantorPriv[idx], msg)
		var s64 [64]byte
		copy(s64[:], sig)
		return block.GuaranteeSignature{ValidatorIndex: idx, Signature: s64}
	}
	guarantee := block.Guarantee{
		Report:     report,
		Slot:       1,
		Signatures: []block.GuaranteeSignature{sign(0), sign(2)},
	}

	accDeps := accumulationDeps()
	tr := &Transitioner{Params: p, Deps: Deps{Codec: fakeCodec{}, VRFVerifier: vrf.StandInVerifier{}, Accumulation: accDeps}}

	out, err := tr.Transition(context.Background(), base, &block.Block{
		Header:     *header,
		Extrinsics: block.Extrinsics{Guarantees: []block.Guarantee{guarantee}},
	})
	require.NoError(t, err)

	require.NotNil(t, out.Rho.Cores[0])
	require.Equal(t, report.PackageSpec.PackageHash, out.Rho.Cores[0].Report.PackageSpec.PackageHash)
	require.NotContains(t, out.Alpha.Pools[0], authorizerHash)
	require.Equal(t, uint64(1), out.Pi.Validators[0].GuaranteesSigned)
	require.Equal(t, uint64(1), out.Pi.Validators[2].GuaranteesSigned)
}

func TestScenario_DuplicatePackage(t *testing.T) {
	p := params.Tiny()
	set, signers := makeValidators(t, int(p.ValidatorCount))

	base := tinyContainer(p, set)
	var eta [4]state.Hash
	eta[2] = state.Hash{9}
	eta[3] = state.Hash{3}
	base.Eta.Values = eta

	header := fallbackSignedHeader(t, signers, 1, eta, p.ValidatorCount, 1)

	pkg := state.Hash{42}
	report := state.WorkReport{
		PackageSpec: state.PackageSpec{PackageHash: pkg},
		Context:     state.RefinementContext{Anchor: state.Hash{}},
	}
	guarantee := block.Guarantee{Report: report, Slot: 0}
	blk := &block.Block{Header: *header, Extrinsics: block.Extrinsics{Guarantees: []block.Guarantee{guarantee, guarantee}}}

	accDeps := accumulationDeps()
	tr := &Transitioner{Params: p, Deps: Deps{Codec: fakeCodec{}, VRFVerifier: vrf.StandInVerifier{}, Accumulation: accDeps}}

	before := base.Clone()
	_, err := tr.Transition(context.Background(), base, blk)
	require.Error(t, err)
	require.ErrorIs(t, err, reports.ErrDuplicatePackage)
	require.Equal(t, uint32(0), base.Tau.Slot)
	require.Equal(t, before.Tau.Slot, base.Tau.Slot)
}
