package preimages

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamzig/statecore/state"
)

// TestLifecycle walks scenario S6 from spec.md §8: solicit at t0, provide
// at t1, historical lookup true from t1, forget at t2, lookup false from
// t2, a second forget after D more slots removes the entry entirely.
func TestLifecycle(t *testing.T) {
	const expungement = 5
	acc := &state.ServiceAccount{}
	key := state.PreimageLookupKey{Hash: state.Hash{1}, Length: 4}

	require.NoError(t, Solicit(acc, key, 0))
	require.ErrorIs(t, Solicit(acc, key, 1), ErrAlreadySolicited)

	require.NoError(t, Provide(acc, key, []byte("data"), 2))

	_, ok := HistoricalLookup(acc, key, 1)
	require.False(t, ok)
	data, ok := HistoricalLookup(acc, key, 2)
	require.True(t, ok)
	require.Equal(t, []byte("data"), data)

	require.NoError(t, Forget(acc, key, 10, expungement))
	_, ok = HistoricalLookup(acc, key, 10)
	require.False(t, ok)
	_, ok = HistoricalLookup(acc, key, 5)
	require.True(t, ok, "still available in [slot0, slot1)")

	// Too soon: expungement period hasn't elapsed.
	require.ErrorIs(t, Forget(acc, key, 12, expungement), ErrIncorrectLookupState)

	require.NoError(t, Forget(acc, key, 16, expungement))
	require.NotContains(t, acc.Lookup, key)
	require.NotContains(t, acc.Preimage, key.Hash)
}

func TestForgetEmptyRemovesImmediately(t *testing.T) {
	acc := &state.ServiceAccount{}
	key := state.PreimageLookupKey{Hash: state.Hash{2}, Length: 1}
	require.NoError(t, Solicit(acc, key, 0))
	require.NoError(t, Forget(acc, key, 3, 5))
	require.NotContains(t, acc.Lookup, key)
}

func TestRegisterAvailableOnThreeSlotEntryRejected(t *testing.T) {
	acc := &state.ServiceAccount{Lookup: map[state.PreimageLookupKey]state.PreimageStatus{}}
	key := state.PreimageLookupKey{Hash: state.Hash{3}, Length: 1}
	acc.Lookup[key] = state.PreimageStatus{Slots: []uint32{1, 2, 3}}

	require.ErrorIs(t, RegisterAvailable(acc, key, 4), ErrIncorrectLookupState)
}

func TestForgetMissingEntry(t *testing.T) {
	acc := &state.ServiceAccount{}
	require.ErrorIs(t, Forget(acc, state.PreimageLookupKey{}, 0, 5), ErrPreimageLookupMissing)
}
