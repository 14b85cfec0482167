package state

// Hash is a 32-byte digest, used throughout σ for headers, reports,
// preimages, and accumulation roots.
type Hash [32]byte

// Ed25519Pub, BandersnatchPub and BLSPub are the three validator key
// types carried in ι/κ/λ (spec.md §3).
type Ed25519Pub [32]byte
type BandersnatchPub [32]byte
type BLSPub [144]byte

// ServiceID identifies a service account in δ.
type ServiceID uint32

// ValidatorIndex indexes into a validator set.
type ValidatorIndex uint32

// CoreIndex indexes into the C cores.
type CoreIndex uint32

// Validator is one entry of ι/κ/λ.
type Validator struct {
	Bandersnatch BandersnatchPub
	Ed25519      Ed25519Pub
	BLS          BLSPub
	Metadata     [128]byte
}

// ValidatorSet is an ordered, fixed-size list of validators.
type ValidatorSet []Validator

func (v ValidatorSet) Clone() ValidatorSet {
	out := make(ValidatorSet, len(v))
	copy(out, v)
	return out
}

// ---- α: authorization pools ----

// Alpha is the per-core bounded pool of authorizer hashes.
type Alpha struct {
	Pools [][]Hash // len == CoreCount, each len <= O
}

func (a *Alpha) Clone() Component {
	out := &Alpha{Pools: make([][]Hash, len(a.Pools))}
	for i, p := range a.Pools {
		out.Pools[i] = append([]Hash(nil), p...)
	}
	return out
}

// ---- β: recent history ----

// BlockDescriptor is one entry of the β ring.
type BlockDescriptor struct {
	HeaderHash   Hash
	StateRoot    Hash
	BeefyMMRRoot Hash
	WorkReports  []Hash
}

// Beta is the bounded ring of recent block descriptors (capacity H).
type Beta struct {
	Entries []BlockDescriptor
}

func (b *Beta) Clone() Component {
	out := &Beta{Entries: make([]BlockDescriptor, len(b.Entries))}
	for i, e := range b.Entries {
		out.Entries[i] = BlockDescriptor{
			HeaderHash:   e.HeaderHash,
			StateRoot:    e.StateRoot,
			BeefyMMRRoot: e.BeefyMMRRoot,
			WorkReports:  append([]Hash(nil), e.WorkReports...),
		}
	}
	return out
}

// ---- γ: Safrole ----

// Ticket is a lottery entry: a VRF output id plus the attempt index that
// produced it.
type Ticket struct {
	ID      Hash
	Attempt uint8
}

// GammaMode discriminates γ.s between ticket-ordering and fallback-key
// sequencing.
type GammaMode int

const (
	GammaModeTickets GammaMode = iota
	GammaModeFallback
)

// Gamma is the Safrole epoch state.
type Gamma struct {
	K       ValidatorSet // validator set scheduled next epoch
	A       []Ticket     // accumulated tickets this epoch, bounded by E
	Mode    GammaMode
	Tickets []Ticket        // valid when Mode == GammaModeTickets
	Keys    []BandersnatchPub // valid when Mode == GammaModeFallback
	Z       Hash            // epoch ring-VRF commitment
}

func (g *Gamma) Clone() Component {
	out := &Gamma{
		K:    g.K.Clone(),
		A:    append([]Ticket(nil), g.A...),
		Mode: g.Mode,
		Z:    g.Z,
	}
	out.Tickets = append([]Ticket(nil), g.Tickets...)
	out.Keys = append([]BandersnatchPub(nil), g.Keys...)
	return out
}

// ---- δ: service accounts ----

// DataKey is the opaque 31-byte structured key into a service's data map
// (spec.md §9: "never implement preimage-hash lookup by iterating all
// keys except as an explicit legacy fallback").
type DataKey [31]byte

// PreimageStatus tracks up to three historical timeslots for a preimage
// lookup entry (spec.md §4.8).
type PreimageStatus struct {
	Slots []uint32 // len in {0,1,2,3}
}

func (s PreimageStatus) clone() PreimageStatus {
	return PreimageStatus{Slots: append([]uint32(nil), s.Slots...)}
}

// PreimageLookupKey identifies one (hash, length) preimage lookup entry.
type PreimageLookupKey struct {
	Hash   Hash
	Length uint32
}

// ServiceAccount is one entry of δ.
type ServiceAccount struct {
	Balance            uint64
	CodeHash           Hash
	MinGasAccumulate   uint64
	MinGasOnTransfer   uint64
	StorageOffset      uint64
	CreationSlot       uint32
	LastAccumulateSlot uint32
	ParentService      ServiceID

	Storage  map[DataKey][]byte
	Preimage map[Hash][]byte
	Lookup   map[PreimageLookupKey]PreimageStatus

	FootprintItems uint64 // a_i
	FootprintBytes uint64 // a_o
}

func cloneServiceAccount(s *ServiceAccount) *ServiceAccount {
	out := &ServiceAccount{
		Balance:            s.Balance,
		CodeHash:           s.CodeHash,
		MinGasAccumulate:   s.MinGasAccumulate,
		MinGasOnTransfer:   s.MinGasOnTransfer,
		StorageOffset:      s.StorageOffset,
		CreationSlot:       s.CreationSlot,
		LastAccumulateSlot: s.LastAccumulateSlot,
		ParentService:      s.ParentService,
		FootprintItems:     s.FootprintItems,
		FootprintBytes:     s.FootprintBytes,
	}
	out.Storage = make(map[DataKey][]byte, len(s.Storage))
	for k, v := range s.Storage {
		out.Storage[k] = append([]byte(nil), v...)
	}
	out.Preimage = make(map[Hash][]byte, len(s.Preimage))
	for k, v := range s.Preimage {
		out.Preimage[k] = append([]byte(nil), v...)
	}
	out.Lookup = make(map[PreimageLookupKey]PreimageStatus, len(s.Lookup))
	for k, v := range s.Lookup {
		out.Lookup[k] = v.clone()
	}
	return out
}

// Delta is the service-account map.
type Delta struct {
	Accounts map[ServiceID]*ServiceAccount
}

func (d *Delta) Clone() Component {
	out := &Delta{Accounts: make(map[ServiceID]*ServiceAccount, len(d.Accounts))}
	for id, acc := range d.Accounts {
		out.Accounts[id] = cloneServiceAccount(acc)
	}
	return out
}

// ---- η: entropy ring ----

// Eta is the four-deep entropy ring.
type Eta struct {
	Values [4]Hash
}

func (e *Eta) Clone() Component {
	out := &Eta{}
	out.Values = e.Values
	return out
}

// ---- ι/κ/λ: validator sets ----

// Validators wraps a ValidatorSet as a Component for ι, κ, λ slots.
type Validators struct {
	Set ValidatorSet
}

func (v *Validators) Clone() Component {
	return &Validators{Set: v.Set.Clone()}
}

// ---- ρ: pending reports ----

// PendingReport is one core's occupant, if any.
type PendingReport struct {
	Report     *WorkReport
	TimeoutSlot uint32
	CachedHash  Hash
}

// Rho holds, per core, an optional pending report.
type Rho struct {
	Cores []*PendingReport // len == CoreCount; nil entry == free core
}

func (r *Rho) Clone() Component {
	out := &Rho{Cores: make([]*PendingReport, len(r.Cores))}
	for i, c := range r.Cores {
		if c == nil {
			continue
		}
		cc := *c
		if c.Report != nil {
			rr := *c.Report
			rr.Results = append([]WorkResult(nil), c.Report.Results...)
			rr.SegmentRootLookup = append([]Hash(nil), c.Report.SegmentRootLookup...)
			rr.Context.Prerequisites = append([]Hash(nil), c.Report.Context.Prerequisites...)
			cc.Report = &rr
		}
		out.Cores[i] = &cc
	}
	return out
}

// ---- τ: current slot ----

// Tau wraps the current slot counter.
type Tau struct {
	Slot uint32
}

func (t *Tau) Clone() Component {
	return &Tau{Slot: t.Slot}
}

// ---- φ: authorization queue ----

// Phi is the per-core fixed-length ring of queued authorizer hashes.
type Phi struct {
	Queues [][]Hash // len == CoreCount, each len == Q
}

func (p *Phi) Clone() Component {
	out := &Phi{Queues: make([][]Hash, len(p.Queues))}
	for i, q := range p.Queues {
		out.Queues[i] = append([]Hash(nil), q...)
	}
	return out
}

// ---- χ: privileges ----

// Chi is the privileged-service configuration.
type Chi struct {
	Manager          ServiceID
	Assigner         ServiceID
	Designator       ServiceID
	AlwaysAccumulate map[ServiceID]uint64
}

func (c *Chi) Clone() Component {
	out := &Chi{Manager: c.Manager, Assigner: c.Assigner, Designator: c.Designator}
	out.AlwaysAccumulate = make(map[ServiceID]uint64, len(c.AlwaysAccumulate))
	for k, v := range c.AlwaysAccumulate {
		out.AlwaysAccumulate[k] = v
	}
	return out
}

// ---- ψ: disputes ----

// Psi is the dispute-resolution state: three disjoint work-report-hash
// sets plus the offenders set.
type Psi struct {
	Good     map[Hash]struct{}
	Bad      map[Hash]struct{}
	Wonky    map[Hash]struct{}
	Offenders map[Ed25519Pub]struct{}
}

func cloneHashSet(m map[Hash]struct{}) map[Hash]struct{} {
	out := make(map[Hash]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func (p *Psi) Clone() Component {
	out := &Psi{
		Good:  cloneHashSet(p.Good),
		Bad:   cloneHashSet(p.Bad),
		Wonky: cloneHashSet(p.Wonky),
	}
	out.Offenders = make(map[Ed25519Pub]struct{}, len(p.Offenders))
	for k := range p.Offenders {
		out.Offenders[k] = struct{}{}
	}
	return out
}

// ---- π: validator statistics ----

// ValidatorCounters is one validator's per-block counters.
type ValidatorCounters struct {
	BlocksProposed    uint64
	TicketsSubmitted  uint64
	PreimagesProvided uint64
	PreimageBytes     uint64
	GuaranteesSigned  uint64
	AssurancesSigned  uint64
}

// CoreCounters is one core's per-block counters.
type CoreCounters struct {
	BytesInput  uint64
	BytesOutput uint64
	ReportCount uint64
	Imports     uint64
	Exports     uint64
	GasUsed     uint64
}

// ServiceCounters is one service's per-block counters.
type ServiceCounters struct {
	AccumulationCount uint64
	GasUsed           uint64
	TransfersReceived uint64
	OnTransferGas     uint64
}

// Pi is the aggregate validator-statistics state.
type Pi struct {
	Validators []ValidatorCounters // len == ValidatorCount
	Cores      []CoreCounters      // len == CoreCount
	Services   map[ServiceID]ServiceCounters
}

func (p *Pi) Clone() Component {
	out := &Pi{
		Validators: append([]ValidatorCounters(nil), p.Validators...),
		Cores:      append([]CoreCounters(nil), p.Cores...),
	}
	out.Services = make(map[ServiceID]ServiceCounters, len(p.Services))
	for k, v := range p.Services {
		out.Services[k] = v
	}
	return out
}

// ---- ξ: accumulated-history ring ----

// Xi is the fixed-length ring (one slot per epoch position) of sets of
// already-accumulated package hashes.
type Xi struct {
	Slots [][]Hash // len == EpochLength
}

func (x *Xi) Clone() Component {
	out := &Xi{Slots: make([][]Hash, len(x.Slots))}
	for i, s := range x.Slots {
		out.Slots[i] = append([]Hash(nil), s...)
	}
	return out
}

// Contains reports whether hash h has been accumulated at any position.
func (x *Xi) Contains(h Hash) bool {
	for _, s := range x.Slots {
		for _, e := range s {
			if e == h {
				return true
			}
		}
	}
	return false
}

// ---- θ: pending-report queue ----

// QueuedReport pairs a report with the package hashes it still depends
// on.
type QueuedReport struct {
	Report               *WorkReport
	UnresolvedDependencies map[Hash]struct{}
}

// Theta is the per-epoch-position list of queued reports awaiting
// dependency resolution.
type Theta struct {
	Positions [][]QueuedReport // len == EpochLength
}

func (t *Theta) Clone() Component {
	out := &Theta{Positions: make([][]QueuedReport, len(t.Positions))}
	for i, pos := range t.Positions {
		cp := make([]QueuedReport, len(pos))
		for j, qr := range pos {
			dep := make(map[Hash]struct{}, len(qr.UnresolvedDependencies))
			for k := range qr.UnresolvedDependencies {
				dep[k] = struct{}{}
			}
			rr := *qr.Report
			rr.Results = append([]WorkResult(nil), qr.Report.Results...)
			rr.SegmentRootLookup = append([]Hash(nil), qr.Report.SegmentRootLookup...)
			rr.Context.Prerequisites = append([]Hash(nil), qr.Report.Context.Prerequisites...)
			cp[j] = QueuedReport{Report: &rr, UnresolvedDependencies: dep}
		}
		out.Positions[i] = cp
	}
	return out
}

// ---- Work reports (shared value type, not a σ component itself) ----

// PackageSpec identifies the work package a report covers.
type PackageSpec struct {
	PackageHash Hash
	Length      uint32
	ErasureRoot Hash
	ExportsRoot Hash
	ExportsCount uint16
}

// RefinementContext anchors a report to a recent-history entry and lists
// its dependencies.
type RefinementContext struct {
	Anchor            Hash
	AnchorStateRoot   Hash
	AnchorBeefyRoot   Hash
	Prerequisites     []Hash
	LookupAnchor      Hash
	LookupAnchorSlot  uint32
}

// WorkResult is one service's result within a work report.
type WorkResult struct {
	ServiceID      ServiceID
	CodeHash       Hash
	PayloadHash    Hash
	AccumulateGas  uint64
	Output         []byte
}

// WorkReport is the auditable record of one off-chain execution.
type WorkReport struct {
	CoreIndex         CoreIndex
	PackageSpec       PackageSpec
	Context           RefinementContext
	Results           []WorkResult
	AuthorizerHash    Hash
	SegmentRootLookup []Hash
	AuthOutput        []byte
}
