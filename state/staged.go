package state

// Staged is the per-component lazy copy-on-write overlay described in
// spec.md §4.1. Sub-transitions take a *Staged, never a *Container
// directly, so that a failing sub-transition can be aborted without any
// trace of its writes reaching the caller's σ.
//
// Grounded on the teacher's nullable-base/nullable-prime field pattern
// (standstaff-beacon-kit's BeaconState interface plus the geth-sharding
// state.go container), generalized here to the sum-variant
// {unchanged | owned_clone} keyed by ComponentID that spec.md §9 calls
// for explicitly.
type Staged struct {
	base  *Container
	prime map[ComponentID]Component
}

// NewStaged begins a transition over base. base is left untouched until
// Commit, which installs the prime values into base itself; before that
// it is read when no prime overlay exists yet.
func NewStaged(base *Container) *Staged {
	return &Staged{base: base, prime: make(map[ComponentID]Component, numComponents)}
}

// Read returns the current value of a component: prime if this
// transition has already written it, base otherwise.
func (s *Staged) Read(id ComponentID) Component {
	if v, ok := s.prime[id]; ok {
		return v
	}
	return s.base.slot(id)
}

// EnsureMut deep-clones the base component into prime on first call and
// returns the (now mutable) prime value. Subsequent calls for the same id
// within this transition return the same prime value.
func (s *Staged) EnsureMut(id ComponentID) Component {
	if v, ok := s.prime[id]; ok {
		return v
	}
	cloned := s.base.slot(id).Clone()
	s.prime[id] = cloned
	return cloned
}

// Commit replaces each base slot touched by this transition with its
// prime counterpart and returns the resulting container. The Staged must
// not be used again after Commit.
func (s *Staged) Commit() *Container {
	for id, v := range s.prime {
		s.base.setSlot(id, v)
	}
	s.prime = nil
	return s.base
}

// Abort discards all prime overlays. base is left untouched, so the
// caller may safely retain it.
func (s *Staged) Abort() {
	s.prime = nil
}

// Base exposes the untouched base container, e.g. for read-only
// recomputation of a state root on failure paths.
func (s *Staged) Base() *Container {
	return s.base
}

// Typed accessors below save every call site from a type assertion.

func (s *Staged) Alpha() *Alpha          { return s.Read(ComponentAlpha).(*Alpha) }
func (s *Staged) AlphaMut() *Alpha       { return s.EnsureMut(ComponentAlpha).(*Alpha) }
func (s *Staged) Beta() *Beta            { return s.Read(ComponentBeta).(*Beta) }
func (s *Staged) BetaMut() *Beta         { return s.EnsureMut(ComponentBeta).(*Beta) }
func (s *Staged) Gamma() *Gamma          { return s.Read(ComponentGamma).(*Gamma) }
func (s *Staged) GammaMut() *Gamma       { return s.EnsureMut(ComponentGamma).(*Gamma) }
func (s *Staged) Delta() *Delta          { return s.Read(ComponentDelta).(*Delta) }
func (s *Staged) DeltaMut() *Delta       { return s.EnsureMut(ComponentDelta).(*Delta) }
func (s *Staged) Eta() *Eta              { return s.Read(ComponentEta).(*Eta) }
func (s *Staged) EtaMut() *Eta           { return s.EnsureMut(ComponentEta).(*Eta) }
func (s *Staged) Iota() *Validators      { return s.Read(ComponentIota).(*Validators) }
func (s *Staged) IotaMut() *Validators   { return s.EnsureMut(ComponentIota).(*Validators) }
func (s *Staged) Kappa() *Validators     { return s.Read(ComponentKappa).(*Validators) }
func (s *Staged) KappaMut() *Validators  { return s.EnsureMut(ComponentKappa).(*Validators) }
func (s *Staged) Lambda() *Validators    { return s.Read(ComponentLambda).(*Validators) }
func (s *Staged) LambdaMut() *Validators { return s.EnsureMut(ComponentLambda).(*Validators) }
func (s *Staged) Rho() *Rho              { return s.Read(ComponentRho).(*Rho) }
func (s *Staged) RhoMut() *Rho           { return s.EnsureMut(ComponentRho).(*Rho) }
func (s *Staged) Tau() *Tau              { return s.Read(ComponentTau).(*Tau) }
func (s *Staged) TauMut() *Tau           { return s.EnsureMut(ComponentTau).(*Tau) }
func (s *Staged) Phi() *Phi              { return s.Read(ComponentPhi).(*Phi) }
func (s *Staged) PhiMut() *Phi           { return s.EnsureMut(ComponentPhi).(*Phi) }
func (s *Staged) Chi() *Chi              { return s.Read(ComponentChi).(*Chi) }
func (s *Staged) ChiMut() *Chi           { return s.EnsureMut(ComponentChi).(*Chi) }
func (s *Staged) Psi() *Psi              { return s.Read(ComponentPsi).(*Psi) }
func (s *Staged) PsiMut() *Psi           { return s.EnsureMut(ComponentPsi).(*Psi) }
func (s *Staged) Pi() *Pi                { return s.Read(ComponentPi).(*Pi) }
func (s *Staged) PiMut() *Pi             { return s.EnsureMut(ComponentPi).(*Pi) }
func (s *Staged) Xi() *Xi                { return s.Read(ComponentXi).(*Xi) }
func (s *Staged) XiMut() *Xi             { return s.EnsureMut(ComponentXi).(*Xi) }
func (s *Staged) Theta() *Theta          { return s.Read(ComponentTheta).(*Theta) }
func (s *Staged) ThetaMut() *Theta       { return s.EnsureMut(ComponentTheta).(*Theta) }
