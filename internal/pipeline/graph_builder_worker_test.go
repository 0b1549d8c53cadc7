package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type fakeGetPOIRepo struct {
	fakePOIRepo
	byID map[string]domain.POI
}

func (f *fakeGetPOIRepo) Get(_ domain.Context, poiID string) (domain.POI, error) {
	p, ok := f.byID[poiID]
	if !ok {
		return domain.POI{}, domain.ErrNotFound
	}
	return p, nil
}

type fakeGraphStore struct {
	pois []domain.POI
	rels []domain.AcceptedRelationship
}

func (g *fakeGraphStore) UpsertPOIs(_ domain.Context, pois []domain.POI) error {
	g.pois = append(g.pois, pois...)
	return nil
}

func (g *fakeGraphStore) UpsertRelationships(_ domain.Context, rels []domain.AcceptedRelationship) error {
	g.rels = append(g.rels, rels...)
	return nil
}

func TestGraphBuilderWorker_HandleAcceptedRelationship_UpsertsPOIsAndEdge(t *testing.T) {
	pois := &fakeGetPOIRepo{byID: map[string]domain.POI{
		"a": {PoiID: "a", Name: "add", Type: domain.POIFunction},
		"b": {PoiID: "b", Name: "helper", Type: domain.POIFunction},
	}}
	graph := &fakeGraphStore{}
	w := NewGraphBuilderWorker(pois, graph)

	rel := domain.AcceptedRelationship{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls", ConfidenceScore: 0.9}
	payload, err := json.Marshal(rel)
	require.NoError(t, err)

	require.NoError(t, w.HandleAcceptedRelationship(nil, payload))
	require.Len(t, graph.pois, 2)
	require.Len(t, graph.rels, 1)
	require.Equal(t, "calls", graph.rels[0].RelationshipType)
}

func TestGraphBuilderWorker_HandleAcceptedRelationship_ErrorsOnMissingEndpoint(t *testing.T) {
	pois := &fakeGetPOIRepo{byID: map[string]domain.POI{"a": {PoiID: "a"}}}
	graph := &fakeGraphStore{}
	w := NewGraphBuilderWorker(pois, graph)

	rel := domain.AcceptedRelationship{FromPoiID: "a", ToPoiID: "ghost", RelationshipType: "calls"}
	payload, err := json.Marshal(rel)
	require.NoError(t, err)

	require.Error(t, w.HandleAcceptedRelationship(nil, payload))
	require.Empty(t, graph.pois)
}
