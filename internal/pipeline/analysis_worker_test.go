package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/discovery"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

type scriptedOracle struct {
	responses []string
	calls     int
}

func (o *scriptedOracle) Call(_ domain.Context, _, _ string) (string, domain.Usage, error) {
	if o.calls >= len(o.responses) {
		return o.responses[len(o.responses)-1], domain.Usage{}, nil
	}
	r := o.responses[o.calls]
	o.calls++
	return r, domain.Usage{}, nil
}

type fakeWriter struct {
	committed     bool
	succeeded     []string
	pois          []domain.POI
	evidence      []domain.CandidateEvidence
	dirs          []string
	failedFileIDs []string
	failedReasons []string
}

func (f *fakeWriter) CommitAnalysis(_ domain.Context, succeeded []string, pois []domain.POI, evidence []domain.CandidateEvidence, dirs []string) error {
	f.committed = true
	f.succeeded = succeeded
	f.pois = pois
	f.evidence = evidence
	f.dirs = dirs
	return nil
}

func (f *fakeWriter) MarkFailed(_ domain.Context, fileID, reason string) error {
	f.failedFileIDs = append(f.failedFileIDs, fileID)
	f.failedReasons = append(f.failedReasons, reason)
	return nil
}

func TestAnalysisWorker_HandleBatch_CommitsPOIsAndEvidence(t *testing.T) {
	resp := `{"pois":[{"name":"add","type":"function","start_line":1,"end_line":3}],"relationships":[]}`
	oracle := &scriptedOracle{responses: []string{resp}}
	writer := &fakeWriter{}
	w := NewAnalysisWorker(oracle, writer)

	batch := discovery.BatchPayload{Files: []discovery.FileUnit{
		{FileID: "f1", Path: "src/a.go", Content: "package src\nfunc add() {}\n"},
	}}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, w.HandleBatch(nil, payload))
	require.True(t, writer.committed)
	require.Equal(t, []string{"f1"}, writer.succeeded)
	require.Len(t, writer.pois, 2) // file POI + function POI
	require.Equal(t, []string{"src"}, writer.dirs)
}

func TestAnalysisWorker_HandleBatch_DeterministicImportResolvedWithinBatch(t *testing.T) {
	resp := `{"pois":[],"relationships":[]}`
	oracle := &scriptedOracle{responses: []string{resp, resp}}
	writer := &fakeWriter{}
	w := NewAnalysisWorker(oracle, writer)

	batch := discovery.BatchPayload{Files: []discovery.FileUnit{
		{FileID: "f1", Path: "src/a.js", Content: "import { add } from './b.js'\n"},
		{FileID: "f2", Path: "src/b.js", Content: "export function add() {}\n"},
	}}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, w.HandleBatch(nil, payload))
	require.True(t, writer.committed)

	var found bool
	for _, e := range writer.evidence {
		if e.EvidenceSource == domain.EvidenceDeterministic && e.RelationshipType == "imports" {
			found = true
			require.Equal(t, domain.ComputePOIID("src/b.js", domain.POIFile, "src/b.js", 0), e.ToPoiID)
		}
	}
	require.True(t, found, "expected a deterministic import evidence row resolved to src/b.js")
}

func TestAnalysisWorker_HandleBatch_SchemaFailureMarksFileFailedWithoutAbortingSiblings(t *testing.T) {
	oracle := &scriptedOracle{responses: []string{"not json", "still not json"}}
	writer := &fakeWriter{}
	w := NewAnalysisWorker(oracle, writer)

	batch := discovery.BatchPayload{Files: []discovery.FileUnit{
		{FileID: "bad", Path: "bad.go", Content: "package bad\n"},
	}}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, w.HandleBatch(nil, payload))
	require.False(t, writer.committed)
	require.Equal(t, []string{"bad"}, writer.failedFileIDs)
}

func TestAnalysisWorker_HandleBatch_OneFileFailsOtherStillCommits(t *testing.T) {
	goodResp := `{"pois":[],"relationships":[]}`
	oracle := &scriptedOracle{responses: []string{"garbage", "garbage", goodResp}}
	writer := &fakeWriter{}
	w := NewAnalysisWorker(oracle, writer)

	batch := discovery.BatchPayload{Files: []discovery.FileUnit{
		{FileID: "bad", Path: "bad.go", Content: "x"},
		{FileID: "good", Path: "good.go", Content: "package good\n"},
	}}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	require.NoError(t, w.HandleBatch(nil, payload))
	require.True(t, writer.committed)
	require.Equal(t, []string{"good"}, writer.succeeded)
	require.Equal(t, []string{"bad"}, writer.failedFileIDs)
}
