// Package authorization implements the α/φ pools and queues of spec.md
// §4.11: per-core authorizer pool maintenance and queue rotation.
package authorization

import (
	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/state"
)

// Remove drops authorizer from α[core], if present (called when a
// guarantee consumes it — spec.md §4.5 "remove the authorizer from
// α[core_index]").
func Remove(s *state.Staged, core state.CoreIndex, authorizer state.Hash) {
	alpha := s.AlphaMut()
	pool := alpha.Pools[core]
	for i, h := range pool {
		if h == authorizer {
			alpha.Pools[core] = append(pool[:i], pool[i+1:]...)
			return
		}
	}
}

// Advance rotates each core's queue into its pool, up to capacity O
// (spec.md §4.11): "α[core] is refilled from the head of φ[core]
// (rotating the queue) up to O".
func Advance(s *state.Staged, p *params.Profile) {
	alpha := s.AlphaMut()
	phi := s.PhiMut()

	for core := range alpha.Pools {
		for uint32(len(alpha.Pools[core])) < p.AuthPoolCapacity && len(phi.Queues[core]) > 0 {
			head := phi.Queues[core][0]
			phi.Queues[core] = append(phi.Queues[core][1:], head) // rotate: move head to tail
			alpha.Pools[core] = append(alpha.Pools[core], head)
		}
	}
}

// Enqueue appends an authorizer to a core's queue, dropping the oldest
// entry to preserve the fixed length Q — the accumulation-driven
// "privileged services may enqueue" path of spec.md §4.11. The
// accumulation package calls it for every authorizer a PVM invocation
// returns in StateUpdates.QueuedAuthorizers.
func Enqueue(s *state.Staged, core state.CoreIndex, authorizer state.Hash) {
	phi := s.PhiMut()
	q := phi.Queues[core]
	if len(q) == 0 {
		return
	}
	copy(q, q[1:])
	q[len(q)-1] = authorizer
	phi.Queues[core] = q
}
