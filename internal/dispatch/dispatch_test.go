package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-subband-ingest/internal/convert"
	"go-subband-ingest/internal/model"
	"go-subband-ingest/internal/store"
)

func newTestPool(t *testing.T, conv convert.Converter) (*Pool, *store.Store) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := model.Config{
		OutputDir:      t.TempDir(),
		Workers:        1,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  time.Minute,
		ConvertTimeout: time.Minute,
		PollInterval:   10 * time.Millisecond,
	}
	return New(st, conv, cfg, log), st
}

func seedPending(t *testing.T, st *store.Store, key string, attempts int) {
	t.Helper()
	g := model.NewGroup(key, 16, time.Now().UTC())
	g.State = model.StatePending
	g.AttemptCount = attempts
	for i := 0; i < 16; i++ {
		g.AddMember(model.Member{
			GroupKey: key, Index: i,
			Path:    fmt.Sprintf("/in/%s_sb%02d.hdf5", key, i),
			ModTime: time.Now(),
		})
	}
	require.NoError(t, st.Upsert(g))
}

func claim(t *testing.T, st *store.Store) *model.Group {
	t.Helper()
	g, err := st.Claim("test-worker", time.Now())
	require.NoError(t, err)
	require.NotNil(t, g)
	return g
}

func TestProcessSuccess(t *testing.T) {
	var gotPaths []string
	var gotOutput string
	conv := convert.Func(func(_ context.Context, paths []string, output string) error {
		gotPaths, gotOutput = paths, output
		return nil
	})

	p, st := newTestPool(t, conv)
	seedPending(t, st, "2025-01-01T00:10:00", 0)
	g := claim(t, st)

	p.process(context.Background(), g, p.log)

	assert.Len(t, gotPaths, 16)
	assert.Equal(t, "/in/2025-01-01T00:10:00_sb00.hdf5", gotPaths[0])
	assert.Equal(t, filepath.Join(p.cfg.OutputDir, "2025-01-01T00:10:00.ms"), gotOutput)

	got, _, err := st.Get(g.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, got.State)
	assert.Equal(t, gotOutput, got.OutputPath)
}

func TestProcessTransientFailureRetries(t *testing.T) {
	conv := convert.Func(func(context.Context, []string, string) error {
		return model.TransientConversion(errors.New("scratch disk full"))
	})

	p, st := newTestPool(t, conv)
	seedPending(t, st, "2025-01-01T00:10:00", 0)
	g := claim(t, st)

	before := time.Now()
	p.process(context.Background(), g, p.log)

	got, _, err := st.Get(g.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.LastError, "scratch disk full")
	assert.True(t, got.NextAttemptAt.After(before), "retry is gated on a future instant")
}

func TestProcessFatalFailureFailsImmediately(t *testing.T) {
	conv := convert.Func(func(context.Context, []string, string) error {
		return model.FatalConversion(errors.New("tool exited 2: bad input"))
	})

	p, st := newTestPool(t, conv)
	seedPending(t, st, "2025-01-01T00:10:00", 0)
	g := claim(t, st)

	p.process(context.Background(), g, p.log)

	got, _, err := st.Get(g.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.State)
	assert.Zero(t, got.AttemptCount, "fatal failures spend no retry budget")
	assert.Contains(t, got.LastError, "bad input")
}

func TestProcessRetriesExhausted(t *testing.T) {
	conv := convert.Func(func(context.Context, []string, string) error {
		return model.TransientConversion(errors.New("still busy"))
	})

	p, st := newTestPool(t, conv)
	seedPending(t, st, "2025-01-01T00:10:00", 3) // already at max
	g := claim(t, st)

	p.process(context.Background(), g, p.log)

	got, _, err := st.Get(g.Key)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.State)
	assert.Contains(t, got.LastError, "retries exhausted")
}

func TestLowDiskPausesClaims(t *testing.T) {
	converted := false
	conv := convert.Func(func(context.Context, []string, string) error {
		converted = true
		return nil
	})

	p, st := newTestPool(t, conv)
	p.cfg.DiskMinFreeGB = 1
	p.freeBytes = func(string) (uint64, error) { return gigabyte / 2, nil }
	seedPending(t, st, "2025-01-01T00:10:00", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.False(t, converted, "no conversion while the output disk is low")
	got, _, gerr := st.Get("2025-01-01T00:10:00")
	require.NoError(t, gerr)
	assert.Equal(t, model.StatePending, got.State, "group stays claimable for later")
}

func TestLowDiskResumesWhenSpaceFreed(t *testing.T) {
	conv := convert.Func(func(context.Context, []string, string) error { return nil })

	p, st := newTestPool(t, conv)
	p.cfg.DiskMinFreeGB = 1
	var free atomic.Uint64
	free.Store(gigabyte / 2)
	p.freeBytes = func(string) (uint64, error) { return free.Load(), nil }
	seedPending(t, st, "2025-01-01T00:10:00", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// space comes back; the paused worker picks the group up
	free.Store(10 * gigabyte)

	require.Eventually(t, func() bool {
		counts, err := st.CountByState()
		return err == nil && counts[model.StateCompleted] == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	conv := convert.Func(func(context.Context, []string, string) error { return nil })

	p, st := newTestPool(t, conv)
	seedPending(t, st, "2025-01-01T00:10:00", 0)
	seedPending(t, st, "2025-01-01T00:15:00", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		counts, err := st.CountByState()
		return err == nil && counts[model.StateCompleted] == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
