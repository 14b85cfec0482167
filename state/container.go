package state

// Container holds all sixteen components of σ. It is the base state a
// Staged transition reads from and, on commit, writes back into.
//
// Ownership: the Container exclusively owns all nested allocations of its
// components. Never mutate a component retrieved from a Container in
// place; go through a Staged overlay instead (spec.md §3 "Ownership").
type Container struct {
	Alpha *Alpha
	Beta  *Beta
	Gamma *Gamma
	Delta *Delta
	Eta   *Eta
	Iota  *Validators
	Kappa *Validators
	Lambda *Validators
	Rho   *Rho
	Tau   *Tau
	Phi   *Phi
	Chi   *Chi
	Psi   *Psi
	Pi    *Pi
	Xi    *Xi
	Theta *Theta
}

// slot returns the component currently stored under id, as the Component
// interface, so Staged can clone it generically.
func (c *Container) slot(id ComponentID) Component {
	switch id {
	case ComponentAlpha:
		return c.Alpha
	case ComponentBeta:
		return c.Beta
	case ComponentGamma:
		return c.Gamma
	case ComponentDelta:
		return c.Delta
	case ComponentEta:
		return c.Eta
	case ComponentIota:
		return c.Iota
	case ComponentKappa:
		return c.Kappa
	case ComponentLambda:
		return c.Lambda
	case ComponentRho:
		return c.Rho
	case ComponentTau:
		return c.Tau
	case ComponentPhi:
		return c.Phi
	case ComponentChi:
		return c.Chi
	case ComponentPsi:
		return c.Psi
	case ComponentPi:
		return c.Pi
	case ComponentXi:
		return c.Xi
	case ComponentTheta:
		return c.Theta
	default:
		panic("state: unknown component id")
	}
}

// setSlot installs a new component value into the container. Used only
// by Staged.Commit.
func (c *Container) setSlot(id ComponentID, v Component) {
	switch id {
	case ComponentAlpha:
		c.Alpha = v.(*Alpha)
	case ComponentBeta:
		c.Beta = v.(*Beta)
	case ComponentGamma:
		c.Gamma = v.(*Gamma)
	case ComponentDelta:
		c.Delta = v.(*Delta)
	case ComponentEta:
		c.Eta = v.(*Eta)
	case ComponentIota:
		c.Iota = v.(*Validators)
	case ComponentKappa:
		c.Kappa = v.(*Validators)
	case ComponentLambda:
		c.Lambda = v.(*Validators)
	case ComponentRho:
		c.Rho = v.(*Rho)
	case ComponentTau:
		c.Tau = v.(*Tau)
	case ComponentPhi:
		c.Phi = v.(*Phi)
	case ComponentChi:
		c.Chi = v.(*Chi)
	case ComponentPsi:
		c.Psi = v.(*Psi)
	case ComponentPi:
		c.Pi = v.(*Pi)
	case ComponentXi:
		c.Xi = v.(*Xi)
	case ComponentTheta:
		c.Theta = v.(*Theta)
	default:
		panic("state: unknown component id")
	}
}

// Clone returns a deep copy of the whole container. Used by callers that
// need to retain a pristine σ independent of any in-flight Staged
// transition (e.g. CalculateStateRoot-style read-only recomputation).
func (c *Container) Clone() *Container {
	return &Container{
		Alpha:  c.Alpha.Clone().(*Alpha),
		Beta:   c.Beta.Clone().(*Beta),
		Gamma:  c.Gamma.Clone().(*Gamma),
		Delta:  c.Delta.Clone().(*Delta),
		Eta:    c.Eta.Clone().(*Eta),
		Iota:   c.Iota.Clone().(*Validators),
		Kappa:  c.Kappa.Clone().(*Validators),
		Lambda: c.Lambda.Clone().(*Validators),
		Rho:    c.Rho.Clone().(*Rho),
		Tau:    c.Tau.Clone().(*Tau),
		Phi:    c.Phi.Clone().(*Phi),
		Chi:    c.Chi.Clone().(*Chi),
		Psi:    c.Psi.Clone().(*Psi),
		Pi:     c.Pi.Clone().(*Pi),
		Xi:     c.Xi.Clone().(*Xi),
		Theta:  c.Theta.Clone().(*Theta),
	}
}
