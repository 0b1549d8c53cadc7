package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

func TestPipelineRunRepo_UpsertThenGet_RoundTrips(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	defer db.Close()

	repo := NewPipelineRunRepo(db)
	now := time.Now().UTC().Truncate(time.Second)
	run := domain.PipelineRun{
		PipelineID:      "p1",
		TargetDirectory: "/tmp/repo",
		Status:          "starting",
		Phase:           "discovery",
		StartedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, repo.Upsert(ctx, run))

	got, found, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "starting", got.Status)
	require.False(t, got.StopRequested)
}

func TestPipelineRunRepo_RequestStop_SetsFlagAndErrorsOnUnknown(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	defer db.Close()

	repo := NewPipelineRunRepo(db)
	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, domain.PipelineRun{PipelineID: "p1", StartedAt: now, UpdatedAt: now, Status: "running", Phase: "x"}))

	require.NoError(t, repo.RequestStop(ctx, "p1"))
	got, found, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.StopRequested)

	require.Error(t, repo.RequestStop(ctx, "ghost"))
}

func TestPipelineRunRepo_Clear_RemovesAllRuns(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))
	defer db.Close()

	repo := NewPipelineRunRepo(db)
	now := time.Now().UTC()
	require.NoError(t, repo.Upsert(ctx, domain.PipelineRun{PipelineID: "p1", StartedAt: now, UpdatedAt: now, Status: "running", Phase: "x"}))
	require.NoError(t, repo.Clear(ctx))

	_, found, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	require.False(t, found)
}
