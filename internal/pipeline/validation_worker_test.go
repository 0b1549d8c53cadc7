package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type fakeExistsPOIRepo struct {
	fakePOIRepo
	known map[string]bool
}

func (f *fakeExistsPOIRepo) Exists(_ domain.Context, poiID string) (bool, error) {
	return f.known[poiID], nil
}

func TestValidationWorker_HandleRelationshipCandidate_ForwardsKnownEndpoints(t *testing.T) {
	pois := &fakeExistsPOIRepo{known: map[string]bool{"a": true, "b": true}}
	outbox := &fakeOutbox{}
	w := NewValidationWorker(pois, outbox)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "b", RelationshipType: "calls"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipCandidate(nil, payload))
	require.Len(t, outbox.events, 1)
	require.Equal(t, domain.QueueReconciliation, outbox.events[0].queueName)
}

func TestValidationWorker_HandleRelationshipCandidate_RoutesDanglingEndpointToFailedJobs(t *testing.T) {
	pois := &fakeExistsPOIRepo{known: map[string]bool{"a": true}}
	outbox := &fakeOutbox{}
	w := NewValidationWorker(pois, outbox)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "ghost", RelationshipType: "calls"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipCandidate(nil, payload))
	require.Len(t, outbox.events, 1)
	require.Equal(t, domain.QueueFailedJobs, outbox.events[0].queueName)

	var rejected failedJobPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].payload, &rejected))
	require.Equal(t, key, rejected.RelationshipKey)
	require.Equal(t, domain.ErrUnknownEndpoint.Error(), rejected.Reason)
}

func TestValidationWorker_HandleRelationshipCandidate_DropsNonReflexiveSelfLoop(t *testing.T) {
	pois := &fakeExistsPOIRepo{known: map[string]bool{"a": true}}
	outbox := &fakeOutbox{}
	w := NewValidationWorker(pois, outbox)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "a", RelationshipType: "calls"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipCandidate(nil, payload))
	require.Empty(t, outbox.events)
}

func TestValidationWorker_HandleRelationshipCandidate_AllowsReflexiveRecursiveCall(t *testing.T) {
	pois := &fakeExistsPOIRepo{known: map[string]bool{"a": true}}
	outbox := &fakeOutbox{}
	w := NewValidationWorker(pois, outbox)

	key := domain.RelationshipKey{FromPoiID: "a", ToPoiID: "a", RelationshipType: "recursive_call"}
	payload, err := json.Marshal(key)
	require.NoError(t, err)

	require.NoError(t, w.HandleRelationshipCandidate(nil, payload))
	require.Len(t, outbox.events, 1)
}
