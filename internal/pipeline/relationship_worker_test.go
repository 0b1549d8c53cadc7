package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type fakeSamplingPOIRepo struct {
	fakePOIRepo
	sample []domain.POI
}

func (f *fakeSamplingPOIRepo) SampleCrossDirectory(_ domain.Context, _ string, _ int) ([]domain.POI, error) {
	return f.sample, nil
}

type fakeEvidenceRepo struct {
	inserted []domain.CandidateEvidence
}

func (f *fakeEvidenceRepo) Insert(_ domain.Context, e domain.CandidateEvidence) (int64, error) {
	f.inserted = append(f.inserted, e)
	return int64(len(f.inserted)), nil
}
func (f *fakeEvidenceRepo) ListByRelationshipKey(_ domain.Context, _, _, _ string) ([]domain.CandidateEvidence, error) {
	return nil, nil
}
func (f *fakeEvidenceRepo) ListPendingKeys(_ domain.Context) ([]domain.RelationshipKey, error) {
	return nil, nil
}

func TestGlobalResolutionWorker_HandleRelationshipResolution_InsertsCrossDirectoryEvidence(t *testing.T) {
	sampled := []domain.POI{{PoiID: "other/c.go::function::run::1", Name: "run", Type: domain.POIFunction, FilePath: "other/c.go"}}
	resp := `{"relationships":[{"from":"src/a.go::function::add::1","to":"other/c.go::function::run::1","type":"CALLS","confidence":0.6}]}`

	pois := &fakeSamplingPOIRepo{sample: sampled}
	evidence := &fakeEvidenceRepo{}
	outbox := &fakeOutbox{}
	oracle := &scriptedOracle{responses: []string{resp}}
	w := NewGlobalResolutionWorker(pois, evidence, outbox, oracle)

	hint := relationshipResolutionHint{
		DirectoryPath: "src",
		POIs:          []directoryPOI{{PoiID: "src/a.go::function::add::1", Name: "add", Type: "function", FilePath: "src/a.go"}},
	}
	payload, err := json.Marshal(hint)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipResolution(nil, payload))
	require.Len(t, evidence.inserted, 1)
	require.Equal(t, domain.EvidenceGlobal, evidence.inserted[0].EvidenceSource)
	require.Equal(t, "calls", evidence.inserted[0].RelationshipType)
	require.Len(t, outbox.events, 1)
	require.Equal(t, domain.QueueRelationshipValidated, outbox.events[0].queueName)
}

func TestGlobalResolutionWorker_HandleRelationshipResolution_DropsSelfLoopAndUnknownEndpoint(t *testing.T) {
	sampled := []domain.POI{{PoiID: "other/c.go::function::run::1", Name: "run", Type: domain.POIFunction, FilePath: "other/c.go"}}
	resp := `{"relationships":[
		{"from":"src/a.go::function::add::1","to":"src/a.go::function::add::1","type":"CALLS","confidence":0.6},
		{"from":"src/a.go::function::add::1","to":"unknown","type":"CALLS","confidence":0.6}
	]}`

	pois := &fakeSamplingPOIRepo{sample: sampled}
	evidence := &fakeEvidenceRepo{}
	outbox := &fakeOutbox{}
	oracle := &scriptedOracle{responses: []string{resp}}
	w := NewGlobalResolutionWorker(pois, evidence, outbox, oracle)

	hint := relationshipResolutionHint{
		DirectoryPath: "src",
		POIs:          []directoryPOI{{PoiID: "src/a.go::function::add::1", Name: "add", Type: "function", FilePath: "src/a.go"}},
	}
	payload, err := json.Marshal(hint)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipResolution(nil, payload))
	require.Empty(t, evidence.inserted)
	require.Empty(t, outbox.events)
}

func TestGlobalResolutionWorker_HandleRelationshipResolution_NoSampleSkipsOracleCall(t *testing.T) {
	pois := &fakeSamplingPOIRepo{sample: nil}
	evidence := &fakeEvidenceRepo{}
	outbox := &fakeOutbox{}
	oracle := &scriptedOracle{responses: []string{"should not be called"}}
	w := NewGlobalResolutionWorker(pois, evidence, outbox, oracle)

	hint := relationshipResolutionHint{
		DirectoryPath: "src",
		POIs:          []directoryPOI{{PoiID: "src/a.go::function::add::1", Name: "add", Type: "function", FilePath: "src/a.go"}},
	}
	payload, err := json.Marshal(hint)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipResolution(nil, payload))
	require.Empty(t, evidence.inserted)
	require.Equal(t, 0, oracle.calls)
}
