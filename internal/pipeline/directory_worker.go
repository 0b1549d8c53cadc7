package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	anthropicoracle "github.com/fairyhunter13/cogtriangulate/internal/adapter/oracle/anthropic"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// directoryTouchedPayload is the C4-emitted event naming one directory that
// gained or changed POIs in the batch just committed.
type directoryTouchedPayload struct {
	DirectoryPath string `json:"directory_path"`
}

// directoryPOI is the slice of a POI's fields the aggregation/resolution
// hop needs; it deliberately excludes line ranges and metadata that the
// directory-scope oracle call has no use for.
type directoryPOI struct {
	PoiID    string `json:"poi_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	FilePath string `json:"file_path"`
}

type directoryAggregatedPayload struct {
	DirectoryPath string         `json:"directory_path"`
	POIs          []directoryPOI `json:"pois"`
}

// AggregationWorker implements the aggregation half of C5: on being told a
// directory was touched, it re-lists every POI under that directory and
// forwards the coalesced set to the resolution queue. Re-running it on a
// redelivered event is harmless — it always recomputes the current POI set
// rather than accumulating state.
type AggregationWorker struct {
	pois   domain.POIRepository
	outbox domain.OutboxRepository
}

// NewAggregationWorker constructs an AggregationWorker.
func NewAggregationWorker(pois domain.POIRepository, outbox domain.OutboxRepository) *AggregationWorker {
	return &AggregationWorker{pois: pois, outbox: outbox}
}

// HandleDirectoryTouched is the domain.Queue handler registered against
// QueueDirectoryAggregation.
func (w *AggregationWorker) HandleDirectoryTouched(ctx domain.Context, payload []byte) error {
	var evt directoryTouchedPayload
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("op=aggregation_worker.handle.decode: %w: %v", domain.ErrDataInvariant, err)
	}

	pois, err := w.pois.ListByDirectory(ctx, evt.DirectoryPath)
	if err != nil {
		return fmt.Errorf("op=aggregation_worker.handle.list path=%s: %w", evt.DirectoryPath, err)
	}
	if len(pois) == 0 {
		return nil
	}

	out := directoryAggregatedPayload{DirectoryPath: evt.DirectoryPath, POIs: make([]directoryPOI, 0, len(pois))}
	for _, p := range pois {
		out.POIs = append(out.POIs, directoryPOI{PoiID: p.PoiID, Name: p.Name, Type: string(p.Type), FilePath: p.FilePath})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("op=aggregation_worker.handle.marshal: %w", err)
	}
	if _, err := w.outbox.Insert(ctx, "directory.aggregated", domain.QueueDirectoryResolution, body); err != nil {
		return fmt.Errorf("op=aggregation_worker.handle.emit: %w", err)
	}
	return nil
}

// ResolutionWorker implements the resolution half of C5: it asks the oracle
// for directory-scope relationships among an aggregated POI set plus a
// one-paragraph summary of the directory's purpose, then hands the
// directory's POI ids on to C6 as cross-directory sampling hints.
type ResolutionWorker struct {
	oracle domain.Oracle
	writer domain.DirectoryResolutionWriter
}

// NewResolutionWorker constructs a ResolutionWorker.
func NewResolutionWorker(oracle domain.Oracle, writer domain.DirectoryResolutionWriter) *ResolutionWorker {
	return &ResolutionWorker{oracle: oracle, writer: writer}
}

type oracleDirectoryRelationship struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type oracleDirectoryAnalysis struct {
	Summary       string                        `json:"summary"`
	Relationships []oracleDirectoryRelationship `json:"relationships"`
}

// relationshipResolutionHint is the payload C6 consumes: the directory's
// POIs in full (not just their ids), so the global-scope oracle call has
// enough detail — name, type, file path — to ask a meaningful question
// about cross-directory pairs sampled against this directory's set.
type relationshipResolutionHint struct {
	DirectoryPath string         `json:"directory_path"`
	POIs          []directoryPOI `json:"pois"`
}

// HandleDirectoryAggregated is the domain.Queue handler registered against
// QueueDirectoryResolution.
func (w *ResolutionWorker) HandleDirectoryAggregated(ctx domain.Context, payload []byte) error {
	var in directoryAggregatedPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("op=resolution_worker.handle.decode: %w: %v", domain.ErrDataInvariant, err)
	}
	if len(in.POIs) == 0 {
		return nil
	}

	known := make(map[string]bool, len(in.POIs))
	for _, p := range in.POIs {
		known[p.PoiID] = true
	}

	system := buildDirectorySystemPrompt()
	user := buildDirectoryUserPrompt(in.DirectoryPath, in.POIs)

	var parsed oracleDirectoryAnalysis
	validate := func(cleaned string) error {
		var candidate oracleDirectoryAnalysis
		if err := json.Unmarshal([]byte(cleaned), &candidate); err != nil {
			return err
		}
		parsed = candidate
		return nil
	}
	if _, _, err := anthropicoracle.CallWithSchemaRetry(ctx, w.oracle, system, user, validate); err != nil {
		return fmt.Errorf("op=resolution_worker.handle path=%s: %w", in.DirectoryPath, err)
	}

	var evidence []domain.CandidateEvidence
	for _, rel := range parsed.Relationships {
		if !known[rel.From] || !known[rel.To] {
			slog.Debug("dropping directory-scope relationship with unresolved endpoint",
				slog.String("directory", in.DirectoryPath), slog.String("from", rel.From), slog.String("to", rel.To))
			continue
		}
		conf := rel.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.5
		}
		evidence = append(evidence, domain.CandidateEvidence{
			FromPoiID:        rel.From,
			ToPoiID:          rel.To,
			RelationshipType: domain.NormalizeRelationshipType(rel.Type),
			EvidenceSource:   domain.EvidenceIntraDirectory,
			Confidence:       conf,
		})
	}

	summary := domain.DirectorySummary{
		DirectoryPath: in.DirectoryPath,
		Summary:       strings.TrimSpace(parsed.Summary),
		Metadata:      map[string]string{"poi_count": strconv.Itoa(len(in.POIs))},
	}

	hint := relationshipResolutionHint{DirectoryPath: in.DirectoryPath, POIs: in.POIs}
	hintBody, err := json.Marshal(hint)
	if err != nil {
		return fmt.Errorf("op=resolution_worker.handle.marshal_hint: %w", err)
	}

	if err := w.writer.CommitDirectoryResolution(ctx, summary, evidence, domain.QueueRelationshipResolution, hintBody); err != nil {
		return fmt.Errorf("op=resolution_worker.handle.commit path=%s: %w", in.DirectoryPath, err)
	}
	return nil
}

func buildDirectorySystemPrompt() string {
	return "You are a static analysis assistant. Given a directory's points of interest " +
		"(identified by stable poi_id), describe the directory's purpose in one paragraph and " +
		"identify relationships between its points of interest that only become visible with " +
		"directory-wide context (e.g. a class in one file extending a class in another). " +
		"Respond with ONLY a single JSON object of the shape " +
		`{"summary":"","relationships":[{"from":"poi_id","to":"poi_id","type":"","confidence":0.0}]}. ` +
		"Use only the poi_id values given to you. No markdown fencing, no prose."
}

func buildDirectoryUserPrompt(directoryPath string, pois []directoryPOI) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directory: %s\n\nPoints of interest:\n", directoryPath)
	for _, p := range pois {
		fmt.Fprintf(&b, "- poi_id=%s name=%s type=%s file=%s\n", p.PoiID, p.Name, p.Type, p.FilePath)
	}
	return b.String()
}
