package recenthistory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamzig/statecore/state"
)

func TestAppendRespectsDepthCap(t *testing.T) {
	base := &state.Container{Beta: &state.Beta{}}
	s := state.NewStaged(base)

	for i := 0; i < 5; i++ {
		Append(s, 3, state.BlockDescriptor{HeaderHash: state.Hash{byte(i)}})
	}

	require.Len(t, s.Beta().Entries, 3)
	require.Equal(t, state.Hash{2}, s.Beta().Entries[0].HeaderHash)
	require.Equal(t, state.Hash{4}, s.Beta().Entries[2].HeaderHash)
}

func TestCloseParentBackfillsLastEntry(t *testing.T) {
	base := &state.Container{Beta: &state.Beta{Entries: []state.BlockDescriptor{{HeaderHash: state.Hash{1}}}}}
	s := state.NewStaged(base)

	CloseParent(s, state.Hash{9})
	require.Equal(t, state.Hash{9}, s.Beta().Entries[0].StateRoot)
}

func TestFindAnchorAndContainsPackage(t *testing.T) {
	base := &state.Container{Beta: &state.Beta{Entries: []state.BlockDescriptor{
		{HeaderHash: state.Hash{1}, WorkReports: []state.Hash{{5}}},
	}}}
	s := state.NewStaged(base)

	entry, ok := FindAnchor(s, state.Hash{1})
	require.True(t, ok)
	require.NotNil(t, entry)

	require.True(t, ContainsPackage(s, state.Hash{5}))
	require.False(t, ContainsPackage(s, state.Hash{6}))

	_, ok = FindAnchor(s, state.Hash{2})
	require.False(t, ok)
}
