package aggregator

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
)

func newTestAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := model.Config{
		ExpectedCount:   16,
		MinAcceptable:   12,
		CompleteTimeout: 15 * time.Minute,
		AbandonTimeout:  time.Hour,
	}
	return New(st, cfg, log), st
}

func member(key string, idx int) model.Member {
	return model.Member{
		GroupKey: key,
		Index:    idx,
		Path:     fmt.Sprintf("/in/%s_sb%02d.hdf5", key, idx),
		ModTime:  time.Now(),
	}
}

func TestGroupPromotedWhenComplete(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	for i := 0; i < 15; i++ {
		require.NoError(t, agg.handleArrival(member(key, i)))
	}

	g, found, err := st.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.StateCollecting, g.State)

	// the sixteenth subband completes the set
	require.NoError(t, agg.handleArrival(member(key, 15)))

	g, _, err = st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, g.State)
	assert.False(t, g.Partial)
	assert.Len(t, g.Members, 16)
	assert.NotContains(t, agg.groups, key, "promoted group leaves the collecting set")
}

func TestDuplicateIndexDoesNotComplete(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	// sixteen arrivals but only fifteen distinct indices
	for i := 0; i < 15; i++ {
		require.NoError(t, agg.handleArrival(member(key, i)))
	}
	require.NoError(t, agg.handleArrival(member(key, 7)))

	g, _, err := st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StateCollecting, g.State)
	assert.Len(t, g.Members, 15)
}

func TestEveryArrivalIsDurable(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	require.NoError(t, agg.handleArrival(member(key, 3)))

	g, found, err := st.Get(key)
	require.NoError(t, err)
	require.True(t, found, "first arrival persisted before anything else happens")
	assert.Len(t, g.Members, 1)
}

func TestSweepPromotesPartialGroup(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	for i := 0; i < 12; i++ {
		require.NoError(t, agg.handleArrival(member(key, i)))
	}

	// not old enough yet
	require.NoError(t, agg.handleSweep(time.Now().Add(10*time.Minute)))
	g, _, err := st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StateCollecting, g.State)

	// past the completeness timeout with >= minAcceptable members
	require.NoError(t, agg.handleSweep(time.Now().Add(16*time.Minute)))
	g, _, err = st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, g.State)
	assert.True(t, g.Partial, "timeout promotion is marked partial")
}

func TestSweepKeepsSparseGroupUntilAbandon(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	for i := 0; i < 5; i++ {
		require.NoError(t, agg.handleArrival(member(key, i)))
	}

	// past complete timeout but below minAcceptable: keep waiting
	require.NoError(t, agg.handleSweep(time.Now().Add(30*time.Minute)))
	g, _, err := st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StateCollecting, g.State)

	// past abandon timeout: fail it
	require.NoError(t, agg.handleSweep(time.Now().Add(61*time.Minute)))
	g, _, err = st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, g.State)
	assert.Equal(t, model.ErrIncompleteGroup.Error(), g.LastError)
	assert.NotContains(t, agg.groups, key)
}

func TestLateArrivalForSettledGroupIgnored(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	for i := 0; i < 16; i++ {
		require.NoError(t, agg.handleArrival(member(key, i)))
	}

	// the group is pending now; a straggler must not disturb it
	require.NoError(t, agg.handleArrival(member(key, 2)))

	g, _, err := st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, g.State)
	assert.Len(t, g.Members, 16)
}

func TestReloadResumesCollectingGroups(t *testing.T) {
	agg, st := newTestAggregator(t)
	key := "2025-01-01T00:10:00"

	for i := 0; i < 10; i++ {
		require.NoError(t, agg.handleArrival(member(key, i)))
	}

	// a second aggregator over the same store picks up where this one was
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	agg2 := New(st, agg.cfg, log)
	require.NoError(t, agg2.reload())

	require.Contains(t, agg2.groups, key)
	assert.Len(t, agg2.groups[key].group.Members, 10)

	for i := 10; i < 16; i++ {
		require.NoError(t, agg2.handleArrival(member(key, i)))
	}
	g, _, err := st.Get(key)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, g.State)
}
