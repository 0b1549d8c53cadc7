package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// GraphBuilderWorker implements C9: for one accepted relationship, it
// ensures both endpoint POIs exist as graph nodes and merges the
// relationship edge, all through domain.GraphStore's bulk UNWIND+MERGE
// calls — single-element slices here, since this worker processes one
// queue message at a time, but the store's bulk shape is what a future
// batched consumer would reuse unchanged.
type GraphBuilderWorker struct {
	pois  domain.POIRepository
	graph domain.GraphStore
}

// NewGraphBuilderWorker constructs a GraphBuilderWorker.
func NewGraphBuilderWorker(pois domain.POIRepository, graph domain.GraphStore) *GraphBuilderWorker {
	return &GraphBuilderWorker{pois: pois, graph: graph}
}

// HandleAcceptedRelationship is the domain.Queue handler registered against
// QueueGraphBuilder.
func (w *GraphBuilderWorker) HandleAcceptedRelationship(ctx domain.Context, payload []byte) error {
	var rel domain.AcceptedRelationship
	if err := json.Unmarshal(payload, &rel); err != nil {
		return fmt.Errorf("op=graph_builder_worker.handle.decode: %w: %v", domain.ErrDataInvariant, err)
	}

	from, err := w.pois.Get(ctx, rel.FromPoiID)
	if err != nil {
		return fmt.Errorf("op=graph_builder_worker.handle.get_from poi_id=%s: %w", rel.FromPoiID, err)
	}
	to, err := w.pois.Get(ctx, rel.ToPoiID)
	if err != nil {
		return fmt.Errorf("op=graph_builder_worker.handle.get_to poi_id=%s: %w", rel.ToPoiID, err)
	}

	if err := w.graph.UpsertPOIs(ctx, []domain.POI{from, to}); err != nil {
		return fmt.Errorf("op=graph_builder_worker.handle.upsert_pois: %w", err)
	}
	if err := w.graph.UpsertRelationships(ctx, []domain.AcceptedRelationship{rel}); err != nil {
		return fmt.Errorf("op=graph_builder_worker.handle.upsert_relationships: %w", err)
	}
	return nil
}
