package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type fakePOIRepo struct {
	byDirectory map[string][]domain.POI
}

func (f *fakePOIRepo) Upsert(_ domain.Context, p domain.POI) error { return nil }
func (f *fakePOIRepo) Get(_ domain.Context, poiID string) (domain.POI, error) {
	return domain.POI{}, domain.ErrNotFound
}
func (f *fakePOIRepo) Exists(_ domain.Context, poiID string) (bool, error) { return false, nil }
func (f *fakePOIRepo) ListByDirectory(_ domain.Context, directoryPath string) ([]domain.POI, error) {
	return f.byDirectory[directoryPath], nil
}
func (f *fakePOIRepo) ListByFile(_ domain.Context, fileID string) ([]domain.POI, error) { return nil, nil }
func (f *fakePOIRepo) SampleCrossDirectory(_ domain.Context, excludeDirectoryPath string, limit int) ([]domain.POI, error) {
	return nil, nil
}

type fakeOutbox struct {
	events []struct {
		eventType, queueName string
		payload              []byte
	}
}

func (o *fakeOutbox) Insert(_ domain.Context, eventType, queueName string, payload []byte) (int64, error) {
	o.events = append(o.events, struct {
		eventType, queueName string
		payload              []byte
	}{eventType, queueName, payload})
	return int64(len(o.events)), nil
}
func (o *fakeOutbox) ListPending(_ domain.Context, limit int) ([]domain.OutboxEvent, error) { return nil, nil }
func (o *fakeOutbox) MarkPublished(_ domain.Context, id int64) error                         { return nil }

func TestAggregationWorker_HandleDirectoryTouched_EmitsAggregatedPOIs(t *testing.T) {
	pois := &fakePOIRepo{byDirectory: map[string][]domain.POI{
		"src": {
			{PoiID: "src::file::src::0", Name: "src", Type: domain.POIFile, FilePath: "src/a.go"},
			{PoiID: "src/a.go::function::add::1", Name: "add", Type: domain.POIFunction, FilePath: "src/a.go"},
		},
	}}
	outbox := &fakeOutbox{}
	w := NewAggregationWorker(pois, outbox)

	payload, err := json.Marshal(directoryTouchedPayload{DirectoryPath: "src"})
	require.NoError(t, err)
	require.NoError(t, w.HandleDirectoryTouched(nil, payload))

	require.Len(t, outbox.events, 1)
	require.Equal(t, domain.QueueDirectoryResolution, outbox.events[0].queueName)

	var out directoryAggregatedPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].payload, &out))
	require.Equal(t, "src", out.DirectoryPath)
	require.Len(t, out.POIs, 2)
}

func TestAggregationWorker_HandleDirectoryTouched_EmptyDirectorySkipped(t *testing.T) {
	pois := &fakePOIRepo{byDirectory: map[string][]domain.POI{}}
	outbox := &fakeOutbox{}
	w := NewAggregationWorker(pois, outbox)

	payload, err := json.Marshal(directoryTouchedPayload{DirectoryPath: "empty"})
	require.NoError(t, err)
	require.NoError(t, w.HandleDirectoryTouched(nil, payload))
	require.Empty(t, outbox.events)
}

type fakeDirectoryWriter struct {
	committed bool
	summary   domain.DirectorySummary
	evidence  []domain.CandidateEvidence
	nextQueue string
}

func (f *fakeDirectoryWriter) CommitDirectoryResolution(_ domain.Context, summary domain.DirectorySummary, evidence []domain.CandidateEvidence, nextQueue string, _ []byte) error {
	f.committed = true
	f.summary = summary
	f.evidence = evidence
	f.nextQueue = nextQueue
	return nil
}

func TestResolutionWorker_HandleDirectoryAggregated_CommitsSummaryAndEvidence(t *testing.T) {
	resp := `{"summary":"Utility helpers.","relationships":[{"from":"a","to":"b","type":"CALLS","confidence":0.8}]}`
	oracle := &scriptedOracle{responses: []string{resp}}
	writer := &fakeDirectoryWriter{}
	w := NewResolutionWorker(oracle, writer)

	in := directoryAggregatedPayload{
		DirectoryPath: "src",
		POIs: []directoryPOI{
			{PoiID: "a", Name: "add", Type: "function", FilePath: "src/a.go"},
			{PoiID: "b", Name: "helper", Type: "function", FilePath: "src/b.go"},
		},
	}
	payload, err := json.Marshal(in)
	require.NoError(t, err)

	require.NoError(t, w.HandleDirectoryAggregated(nil, payload))
	require.True(t, writer.committed)
	require.Equal(t, "Utility helpers.", writer.summary.Summary)
	require.Len(t, writer.evidence, 1)
	require.Equal(t, "calls", writer.evidence[0].RelationshipType)
	require.Equal(t, domain.EvidenceIntraDirectory, writer.evidence[0].EvidenceSource)
	require.Equal(t, domain.QueueRelationshipResolution, writer.nextQueue)
}

func TestResolutionWorker_HandleDirectoryAggregated_DropsUnresolvedEndpoint(t *testing.T) {
	resp := `{"summary":"x","relationships":[{"from":"a","to":"unknown","type":"CALLS","confidence":0.8}]}`
	oracle := &scriptedOracle{responses: []string{resp}}
	writer := &fakeDirectoryWriter{}
	w := NewResolutionWorker(oracle, writer)

	in := directoryAggregatedPayload{DirectoryPath: "src", POIs: []directoryPOI{{PoiID: "a", Name: "add", Type: "function"}}}
	payload, err := json.Marshal(in)
	require.NoError(t, err)

	require.NoError(t, w.HandleDirectoryAggregated(nil, payload))
	require.True(t, writer.committed)
	require.Empty(t, writer.evidence)
}
