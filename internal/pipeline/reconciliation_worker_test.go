package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type fakeRelationshipRepo struct {
	byKey  map[string]domain.AcceptedRelationship
	upsert []domain.AcceptedRelationship
	notify []struct {
		eventType, queueName string
		payload              []byte
	}
}

func relKey(from, to, typ string) string { return from + "|" + to + "|" + typ }

func (f *fakeRelationshipRepo) Upsert(_ domain.Context, r domain.AcceptedRelationship) error {
	if f.byKey == nil {
		f.byKey = map[string]domain.AcceptedRelationship{}
	}
	f.byKey[relKey(r.FromPoiID, r.ToPoiID, r.RelationshipType)] = r
	f.upsert = append(f.upsert, r)
	return nil
}

func (f *fakeRelationshipRepo) Get(_ domain.Context, from, to, typ string) (domain.AcceptedRelationship, bool, error) {
	r, ok := f.byKey[relKey(from, to, typ)]
	return r, ok, nil
}

// UpsertAndNotify mimics the real repository's shared-transaction semantics
// closely enough for tests: both the upsert and the notification record land
// together, in the same call, every time.
func (f *fakeRelationshipRepo) UpsertAndNotify(ctx domain.Context, r domain.AcceptedRelationship, eventType, queueName string, payload []byte) error {
	if err := f.Upsert(ctx, r); err != nil {
		return err
	}
	f.notify = append(f.notify, struct {
		eventType, queueName string
		payload              []byte
	}{eventType, queueName, payload})
	return nil
}

func TestReconciliationWorker_HandleReconciliation_AcceptsOnTwoDistinctSources(t *testing.T) {
	evidence := &fakeListingEvidenceRepo{
		byKey: []domain.CandidateEvidence{
			{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls", EvidenceSource: domain.EvidenceIntraFile, Confidence: 0.8},
			{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls", EvidenceSource: domain.EvidenceIntraDirectory, Confidence: 0.6},
		},
	}
	rels := &fakeRelationshipRepo{}
	w := NewReconciliationWorker(evidence, rels)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleReconciliation(nil, payload))
	require.Len(t, rels.upsert, 1)
	require.Len(t, rels.notify, 1)
	require.Equal(t, domain.QueueGraphBuilder, rels.notify[0].queueName)
	require.Greater(t, rels.upsert[0].ConfidenceScore, 0.0)
}

func TestReconciliationWorker_HandleReconciliation_AcceptsOnSingleDeterministicSource(t *testing.T) {
	evidence := &fakeListingEvidenceRepo{
		byKey: []domain.CandidateEvidence{
			{FromPoiID: "a", ToPoiID: "b", RelationshipType: "imports", EvidenceSource: domain.EvidenceDeterministic, Confidence: 1.0},
		},
	}
	rels := &fakeRelationshipRepo{}
	w := NewReconciliationWorker(evidence, rels)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "b", RelationshipType: "imports"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleReconciliation(nil, payload))
	require.Len(t, rels.upsert, 1)
}

func TestReconciliationWorker_HandleReconciliation_RejectsSingleWeakGlobalSource(t *testing.T) {
	evidence := &fakeListingEvidenceRepo{
		byKey: []domain.CandidateEvidence{
			{FromPoiID: "a", ToPoiID: "b", RelationshipType: "uses", EvidenceSource: domain.EvidenceGlobal, Confidence: 0.4},
		},
	}
	rels := &fakeRelationshipRepo{}
	w := NewReconciliationWorker(evidence, rels)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "b", RelationshipType: "uses"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleReconciliation(nil, payload))
	require.Empty(t, rels.upsert)
	require.Empty(t, rels.notify)
}

func TestReconciliationWorker_HandleReconciliation_KeepsHigherConfidenceExisting(t *testing.T) {
	evidence := &fakeListingEvidenceRepo{
		byKey: []domain.CandidateEvidence{
			{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls", EvidenceSource: domain.EvidenceGlobal, Confidence: 0.4},
			{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls", EvidenceSource: domain.EvidenceIntraDirectory, Confidence: 0.5},
		},
	}
	rels := &fakeRelationshipRepo{byKey: map[string]domain.AcceptedRelationship{
		relKey("a", "b", "calls"): {FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls", ConfidenceScore: 0.99},
	}}
	w := NewReconciliationWorker(evidence, rels)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleReconciliation(nil, payload))
	require.Empty(t, rels.upsert)
	require.Empty(t, rels.notify)
}

type fakeListingEvidenceRepo struct {
	byKey []domain.CandidateEvidence
}

func (f *fakeListingEvidenceRepo) Insert(_ domain.Context, e domain.CandidateEvidence) (int64, error) {
	f.byKey = append(f.byKey, e)
	return int64(len(f.byKey)), nil
}
func (f *fakeListingEvidenceRepo) ListByRelationshipKey(_ domain.Context, from, to, typ string) ([]domain.CandidateEvidence, error) {
	var out []domain.CandidateEvidence
	for _, e := range f.byKey {
		if e.FromPoiID == from && e.ToPoiID == to && e.RelationshipType == typ {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeListingEvidenceRepo) ListPendingKeys(_ domain.Context) ([]domain.RelationshipKey, error) {
	return nil, nil
}
