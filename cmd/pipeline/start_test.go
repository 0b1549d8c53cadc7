package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/config"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

func TestConcurrencyFor_MapsEachQueueToItsConfiguredStage(t *testing.T) {
	cfg := config.Config{
		WorkerConcurrencyAnalysis:       8,
		WorkerConcurrencyDirectory:      4,
		WorkerConcurrencyRelationship:   5,
		WorkerConcurrencyValidation:     6,
		WorkerConcurrencyReconciliation: 7,
		WorkerConcurrencyGraphBuilder:   2,
	}

	cases := []struct {
		queue string
		want  int
	}{
		{domain.QueueFileAnalysis, 8},
		{domain.QueueDirectoryAggregation, 4},
		{domain.QueueDirectoryResolution, 4},
		{domain.QueueRelationshipResolution, 5},
		{domain.QueueRelationshipValidated, 6},
		{domain.QueueReconciliation, 7},
		{domain.QueueGraphBuilder, 2},
		{"unknown-queue", 1},
	}
	for _, c := range cases {
		require.Equal(t, c.want, concurrencyFor(cfg, c.queue), "queue=%s", c.queue)
	}
}

func TestCountDeadLettered_PlaceholderAlwaysZero(t *testing.T) {
	require.Equal(t, 0, countDeadLettered(nil, nil))
}
