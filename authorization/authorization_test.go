package authorization

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamzig/statecore/params"
	"github.com/jamzig/statecore/state"
)

func TestRemoveDropsMatchingAuthorizer(t *testing.T) {
	base := &state.Container{Alpha: &state.Alpha{Pools: [][]state.Hash{{{1}, {2}, {3}}}}}
	s := state.NewStaged(base)

	Remove(s, 0, state.Hash{2})
	require.Equal(t, []state.Hash{{1}, {3}}, s.Alpha().Pools[0])
}

func TestAdvanceRefillsUpToCapacity(t *testing.T) {
	p := params.Tiny()
	p.AuthPoolCapacity = 2
	base := &state.Container{
		Alpha: &state.Alpha{Pools: [][]state.Hash{{{1}}}},
		Phi:   &state.Phi{Queues: [][]state.Hash{{{2}, {3}, {4}}}},
	}
	s := state.NewStaged(base)

	Advance(s, p)
	require.Equal(t, [][]state.Hash{{{1}, {2}}}, s.Alpha().Pools)
	require.Equal(t, [][]state.Hash{{{3}, {4}, {2}}}, s.Phi().Queues)
}

func TestEnqueueRotatesOutOldest(t *testing.T) {
	base := &state.Container{Phi: &state.Phi{Queues: [][]state.Hash{{{1}, {2}, {3}}}}}
	s := state.NewStaged(base)

	Enqueue(s, 0, state.Hash{9})
	require.Equal(t, []state.Hash{{2}, {3}, {9}}, s.Phi().Queues[0])
}
