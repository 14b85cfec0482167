// Package disputes implements the ψ sub-transition of spec.md §4 (the
// verdicts/culprits/faults process referenced by the component table's
// "Disputes (ψ)" row): classifying work-report hashes into good/bad/wonky
// sets, recording offenders, and removing condemned reports from ρ.
package disputes

import (
	"github.com/jamzig/statecore/block"
	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/state"
)

// Apply folds a block's verdicts/culprits/faults extrinsics into ψ and
// evicts any core whose pending report was just judged bad, returning
// the set of evicted cores (ρ† in spec.md §2's "disputes (→ρ_dagger)").
func Apply(s *state.Staged, p *params.Profile, ex *block.Extrinsics) []state.CoreIndex {
	psi := s.PsiMut()

	for _, v := range ex.Verdicts {
		positive := 0
		for _, j := range v.Judgements {
			if j {
				positive++
			}
		}
		switch {
		case uint32(positive) >= p.SuperMajority:
			psi.Good[v.ReportHash] = struct{}{}
			delete(psi.Bad, v.ReportHash)
			delete(psi.Wonky, v.ReportHash)
		case positive == 0:
			psi.Bad[v.ReportHash] = struct{}{}
			delete(psi.Good, v.ReportHash)
			delete(psi.Wonky, v.ReportHash)
		default:
			psi.Wonky[v.ReportHash] = struct{}{}
			delete(psi.Good, v.ReportHash)
			delete(psi.Bad, v.ReportHash)
		}
	}

	for _, c := range ex.Culprits {
		psi.Offenders[c.Validator] = struct{}{}
	}
	for _, f := range ex.Faults {
		psi.Offenders[f.Validator] = struct{}{}
	}

	return evictBadCores(s, psi)
}

// evictBadCores clears ρ[core] for any core whose occupant report hash is
// now in ψ.bad, per spec.md §2's pipeline note that disputes "removes
// condemned reports from cores".
func evictBadCores(s *state.Staged, psi *state.Psi) []state.CoreIndex {
	rho := s.Rho()
	var evicted []state.CoreIndex
	for i, pending := range rho.Cores {
		if pending == nil {
			continue
		}
		if _, bad := psi.Bad[pending.CachedHash]; bad {
			evicted = append(evicted, state.CoreIndex(i))
		}
	}
	if len(evicted) > 0 {
		rhoMut := s.RhoMut()
		for _, c := range evicted {
			rhoMut.Cores[c] = nil
		}
	}
	return evicted
}
