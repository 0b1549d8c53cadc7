package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"

	anthropicoracle "github.com/fairyhunter13/cogtriangulate/internal/adapter/oracle/anthropic"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// globalSampleSize bounds how many cross-directory POIs C6 asks the oracle
// to consider per directory processed, keeping the prompt bounded regardless
// of overall repository size.
const globalSampleSize = 40

// GlobalResolutionWorker implements C6: for one directory's POI set, it
// samples a bounded number of POIs drawn from every other directory and asks
// the oracle whether any global-scope relationship holds between the two
// sets (e.g. a cross-package interface implementation the directory-scope
// pass could never see). Unlike C4/C5, each evidence row and its key-touched
// notification are written independently rather than inside one shared
// transaction: global evidence is inherently a best-effort broadening pass,
// and a partial write here only costs the triangulator a single observation
// rather than corrupting a terminal file or directory write.
type GlobalResolutionWorker struct {
	pois      domain.POIRepository
	evidence  domain.EvidenceRepository
	outbox    domain.OutboxRepository
	oracle    domain.Oracle
	sampleCap int
}

// NewGlobalResolutionWorker constructs a GlobalResolutionWorker with the
// default cross-directory sample size.
func NewGlobalResolutionWorker(pois domain.POIRepository, evidence domain.EvidenceRepository, outbox domain.OutboxRepository, oracle domain.Oracle) *GlobalResolutionWorker {
	return &GlobalResolutionWorker{pois: pois, evidence: evidence, outbox: outbox, oracle: oracle, sampleCap: globalSampleSize}
}

type oracleGlobalRelationship struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type oracleGlobalAnalysis struct {
	Relationships []oracleGlobalRelationship `json:"relationships"`
}

// HandleRelationshipResolution is the domain.Queue handler registered
// against QueueRelationshipResolution.
func (w *GlobalResolutionWorker) HandleRelationshipResolution(ctx domain.Context, payload []byte) error {
	var in relationshipResolutionHint
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("op=global_resolution_worker.handle.decode: %w: %v", domain.ErrDataInvariant, err)
	}
	if len(in.POIs) == 0 {
		return nil
	}

	sampled, err := w.pois.SampleCrossDirectory(ctx, in.DirectoryPath, w.sampleCap)
	if err != nil {
		return fmt.Errorf("op=global_resolution_worker.handle.sample path=%s: %w", in.DirectoryPath, err)
	}
	if len(sampled) == 0 {
		return nil
	}

	sampleDirPOIs := make([]directoryPOI, 0, len(sampled))
	known := make(map[string]bool, len(in.POIs)+len(sampled))
	for _, p := range in.POIs {
		known[p.PoiID] = true
	}
	for _, p := range sampled {
		known[p.PoiID] = true
		sampleDirPOIs = append(sampleDirPOIs, directoryPOI{PoiID: p.PoiID, Name: p.Name, Type: string(p.Type), FilePath: p.FilePath})
	}

	system := buildGlobalSystemPrompt()
	user := buildGlobalUserPrompt(in.DirectoryPath, in.POIs, sampleDirPOIs)

	var parsed oracleGlobalAnalysis
	validate := func(cleaned string) error {
		var candidate oracleGlobalAnalysis
		if err := json.Unmarshal([]byte(cleaned), &candidate); err != nil {
			return err
		}
		parsed = candidate
		return nil
	}
	if _, _, err := anthropicoracle.CallWithSchemaRetry(ctx, w.oracle, system, user, validate); err != nil {
		return fmt.Errorf("op=global_resolution_worker.handle path=%s: %w", in.DirectoryPath, err)
	}

	seen := make(map[domain.RelationshipKey]bool)
	for _, rel := range parsed.Relationships {
		if !known[rel.From] || !known[rel.To] {
			slog.Debug("dropping global-scope relationship with unresolved endpoint",
				slog.String("directory", in.DirectoryPath), slog.String("from", rel.From), slog.String("to", rel.To))
			continue
		}
		if rel.From == rel.To {
			slog.Debug("dropping global-scope self-loop", slog.String("poi_id", rel.From))
			continue
		}
		conf := rel.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.4
		}
		relType := domain.NormalizeRelationshipType(rel.Type)
		e := domain.CandidateEvidence{
			FromPoiID:        rel.From,
			ToPoiID:          rel.To,
			RelationshipType: relType,
			EvidenceSource:   domain.EvidenceGlobal,
			Confidence:       conf,
		}
		if _, err := w.evidence.Insert(ctx, e); err != nil {
			return fmt.Errorf("op=global_resolution_worker.handle.insert_evidence path=%s: %w", in.DirectoryPath, err)
		}

		key := domain.RelationshipKey{FromPoiID: rel.From, ToPoiID: rel.To, RelationshipType: relType}
		if seen[key] {
			continue
		}
		seen[key] = true
		keyBody, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("op=global_resolution_worker.handle.marshal_key: %w", err)
		}
		if _, err := w.outbox.Insert(ctx, "relationship.candidate", domain.QueueRelationshipValidated, keyBody); err != nil {
			return fmt.Errorf("op=global_resolution_worker.handle.notify path=%s: %w", in.DirectoryPath, err)
		}
	}
	return nil
}

func buildGlobalSystemPrompt() string {
	return "You are a static analysis assistant. You are given two sets of points of " +
		"interest (identified by stable poi_id) drawn from different, unrelated directories " +
		"of the same codebase: a focus set and a sampled comparison set. Identify any " +
		"relationships that hold between the two sets only at a whole-repository scope (e.g. " +
		"an implementation of an interface declared elsewhere, a plugin registering itself with " +
		"a central registry). Do not invent relationships within a single set — only cross-set " +
		"ones. Respond with ONLY a single JSON object of the shape " +
		`{"relationships":[{"from":"poi_id","to":"poi_id","type":"","confidence":0.0}]}. ` +
		"Use only the poi_id values given to you. No markdown fencing, no prose."
}

func buildGlobalUserPrompt(directoryPath string, focus, sample []directoryPOI) string {
	body := fmt.Sprintf("Focus directory: %s\n\nFocus set:\n", directoryPath)
	for _, p := range focus {
		body += fmt.Sprintf("- poi_id=%s name=%s type=%s file=%s\n", p.PoiID, p.Name, p.Type, p.FilePath)
	}
	body += "\nComparison set (sampled from other directories):\n"
	for _, p := range sample {
		body += fmt.Sprintf("- poi_id=%s name=%s type=%s file=%s\n", p.PoiID, p.Name, p.Type, p.FilePath)
	}
	return body
}
