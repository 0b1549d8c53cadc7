package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

func startRegistry(t *testing.T) (*Registry, context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRegistry()
	go r.Run(ctx)
	return r, ctx, cancel
}

func TestRegistry_StartThenStatus_ReturnsStartingSnapshot(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))

	snap, err := r.Status(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "p1", snap.PipelineID)
	require.Equal(t, "/tmp/repo", snap.TargetDirectory)
	require.Equal(t, RunStarting, snap.Status)
}

func TestRegistry_StartTwiceWhileRunning_Errors(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))
	r.UpdatePhase(ctx, "p1", "file-analysis")

	err := r.Start(ctx, "p1", "/tmp/repo")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrConflict))
}

func TestRegistry_UpdatePhase_TransitionsToRunning(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))
	r.UpdatePhase(ctx, "p1", "relationship-resolution")

	snap, err := r.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, RunRunning, snap.Status)
	require.Equal(t, "relationship-resolution", snap.Phase)
}

func TestRegistry_Finish_RecordsCompletedWithFailures(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))
	r.Finish(ctx, "p1", RunCompletedWithFailures, 3, nil)

	snap, err := r.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, RunCompletedWithFailures, snap.Status)
	require.Equal(t, 3, snap.FailedJobCount)
}

func TestRegistry_StatusForUnknownPipeline_ReturnsNil(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	snap, err := r.Status(ctx, "ghost")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestRegistry_Clear_RemovesAllRuns(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))
	r.Clear(ctx)

	snap, err := r.Status(ctx, "p1")
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestRegistry_Stop_MarksStopped(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))
	r.Stop(ctx, "p1")

	snap, err := r.Status(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, RunStopped, snap.Status)
}

func TestRegistry_ConcurrentStatusReads_NeverRace(t *testing.T) {
	r, ctx, cancel := startRegistry(t)
	defer cancel()

	require.NoError(t, r.Start(ctx, "p1", "/tmp/repo"))

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 20; j++ {
				_, _ = r.Status(ctx, "p1")
				r.UpdatePhase(ctx, "p1", "file-analysis")
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for concurrent registry access")
		}
	}
}
