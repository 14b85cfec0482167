// Package recenthistory implements the β ring of spec.md §4.9: an
// append-only bounded ring of recent block descriptors, used for anchor
// lookups (§4.5) and closed one block late because a header commits to
// its parent's post-state, not its own.
//
// Grounded on the teacher's UpdateStateRootAtIndex/UpdateBlockRootAtIndex
// idiom (standstaff-beacon-kit processSlot), which closes the *previous*
// slot's root fields on every new slot for exactly the same reason.
package recenthistory

import (
	"github.com/jamzig/statecore/state"
)

// CloseParent back-fills the most recently appended entry's state root
// with the parent block's post-state root. Must be called before
// Append for the current block, since the header currently being
// processed commits to its parent's post-state root, not its own
// (spec.md §4.9).
func CloseParent(s *state.Staged, parentPostStateRoot state.Hash) {
	beta := s.BetaMut()
	if len(beta.Entries) == 0 {
		return
	}
	beta.Entries[len(beta.Entries)-1].StateRoot = parentPostStateRoot
}

// Append adds a new entry for the current block, with an empty state
// root (closed by the next block's CloseParent call) and the block's
// reported work packages and beefy MMR root.
func Append(s *state.Staged, depth uint32, entry state.BlockDescriptor) {
	beta := s.BetaMut()
	beta.Entries = append(beta.Entries, entry)
	if uint32(len(beta.Entries)) > depth {
		beta.Entries = beta.Entries[uint32(len(beta.Entries))-depth:]
	}
}

// FindAnchor looks up the β entry whose header hash matches anchor.
func FindAnchor(s *state.Staged, anchor state.Hash) (*state.BlockDescriptor, bool) {
	beta := s.Beta()
	for i := range beta.Entries {
		if beta.Entries[i].HeaderHash == anchor {
			return &beta.Entries[i], true
		}
	}
	return nil, false
}

// ContainsPackage reports whether any β entry already reports
// packageHash, used by the duplicate-package check in spec.md §4.5.
func ContainsPackage(s *state.Staged, packageHash state.Hash) bool {
	beta := s.Beta()
	for _, e := range beta.Entries {
		for _, h := range e.WorkReports {
			if h == packageHash {
				return true
			}
		}
	}
	return false
}
