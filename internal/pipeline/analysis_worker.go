// Package pipeline wires the queue-consuming worker stages (C4-C9): each
// worker decodes one outbox-delivered payload, does its stage's work, and
// either forwards a new payload downstream or commits a terminal write.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	anthropicoracle "github.com/fairyhunter13/cogtriangulate/internal/adapter/oracle/anthropic"
	"github.com/fairyhunter13/cogtriangulate/internal/analysis/deterministic"
	"github.com/fairyhunter13/cogtriangulate/internal/discovery"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
	"github.com/fairyhunter13/cogtriangulate/pkg/textx"
)

// AnalysisWorker implements C4: it receives a batch of discovered files,
// runs the deterministic pre-pass, asks the oracle for POIs and intra-file
// relationships per file, and commits the batch's successful results as one
// transaction while failed files are marked independently.
type AnalysisWorker struct {
	oracle domain.Oracle
	writer domain.AnalysisResultWriter
}

// NewAnalysisWorker constructs an AnalysisWorker.
func NewAnalysisWorker(oracle domain.Oracle, writer domain.AnalysisResultWriter) *AnalysisWorker {
	return &AnalysisWorker{oracle: oracle, writer: writer}
}

// oraclePOI is one element of the oracle's requested JSON response shape.
type oraclePOI struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type oracleRelationship struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type oracleFileAnalysis struct {
	POIs          []oraclePOI          `json:"pois"`
	Relationships []oracleRelationship `json:"relationships"`
}

// HandleBatch is the domain.Queue handler registered against
// QueueFileAnalysis. It never returns an error for an individual file's
// analysis failure — those are recorded via MarkFailed so one bad file
// never aborts its siblings or causes the whole batch to be redelivered.
func (w *AnalysisWorker) HandleBatch(ctx domain.Context, payload []byte) error {
	var batch discovery.BatchPayload
	if err := json.Unmarshal(payload, &batch); err != nil {
		return fmt.Errorf("op=analysis_worker.handle_batch.decode: %w: %v", domain.ErrDataInvariant, err)
	}

	pathIndex := make(map[string]string, len(batch.Files))
	for _, f := range batch.Files {
		pathIndex[path.Clean(f.Path)] = f.FileID
	}

	var allPOIs []domain.POI
	var allEvidence []domain.CandidateEvidence
	var succeeded []string
	dirsTouched := map[string]bool{}

	for _, f := range batch.Files {
		pois, evidence, err := w.analyzeFile(ctx, f, pathIndex)
		if err != nil {
			slog.Warn("file analysis failed, marking file failed",
				slog.String("file_id", f.FileID), slog.String("path", f.Path), slog.Any("error", err))
			if merr := w.writer.MarkFailed(ctx, f.FileID, err.Error()); merr != nil {
				slog.Error("failed to record file failure", slog.String("file_id", f.FileID), slog.Any("error", merr))
			}
			continue
		}
		allPOIs = append(allPOIs, pois...)
		allEvidence = append(allEvidence, evidence...)
		succeeded = append(succeeded, f.FileID)
		dirsTouched[dirOf(f.Path)] = true
	}

	if len(succeeded) == 0 {
		return nil
	}

	dirs := make([]string, 0, len(dirsTouched))
	for d := range dirsTouched {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	if err := w.writer.CommitAnalysis(ctx, succeeded, allPOIs, allEvidence, dirs); err != nil {
		return fmt.Errorf("op=analysis_worker.handle_batch.commit: %w", err)
	}
	return nil
}

// analyzeFile runs the deterministic pre-pass and the oracle call for one
// file and returns the POIs and evidence it produced. The file-level POI is
// always included so import edges have a stable source and destination even
// when the oracle finds no finer-grained POIs inside the file.
func (w *AnalysisWorker) analyzeFile(ctx domain.Context, f discovery.FileUnit, pathIndex map[string]string) ([]domain.POI, []domain.CandidateEvidence, error) {
	filePOI := domain.POI{
		PoiID:    domain.ComputePOIID(f.Path, domain.POIFile, f.Path, 0),
		FileID:   f.FileID,
		Type:     domain.POIFile,
		Name:     f.Path,
		FilePath: f.Path,
	}
	pois := []domain.POI{filePOI}
	var evidence []domain.CandidateEvidence

	for _, ref := range deterministic.Extract(f.Content) {
		targetPath, ok := resolveRelativeImport(f.Path, ref.RawTarget, pathIndex)
		if !ok {
			continue
		}
		targetFileID := pathIndex[targetPath]
		evidence = append(evidence, domain.CandidateEvidence{
			FromPoiID:        filePOI.PoiID,
			ToPoiID:          domain.ComputePOIID(targetPath, domain.POIFile, targetPath, 0),
			RelationshipType: domain.NormalizeRelationshipType(ref.RelationshipType),
			EvidenceSource:   domain.EvidenceDeterministic,
			Confidence:       ref.Confidence,
			Metadata:         map[string]string{"raw_target": ref.RawTarget, "target_file_id": targetFileID},
		})
	}

	system := buildFileAnalysisSystemPrompt()
	user := buildFileAnalysisUserPrompt(f.Path, textx.SanitizeText(f.Content))

	var parsed oracleFileAnalysis
	validate := func(cleaned string) error {
		var candidate oracleFileAnalysis
		if err := json.Unmarshal([]byte(cleaned), &candidate); err != nil {
			return err
		}
		parsed = candidate
		return nil
	}

	if _, _, err := anthropicoracle.CallWithSchemaRetry(ctx, w.oracle, system, user, validate); err != nil {
		return nil, nil, fmt.Errorf("op=analysis_worker.analyze_file path=%s: %w", f.Path, err)
	}

	byName := map[string]string{f.Path: filePOI.PoiID}
	for _, p := range parsed.POIs {
		poiID := domain.ComputePOIID(f.Path, domain.POIType(p.Type), p.Name, p.StartLine)
		pois = append(pois, domain.POI{
			PoiID:     poiID,
			FileID:    f.FileID,
			Type:      domain.POIType(p.Type),
			Name:      p.Name,
			FilePath:  f.Path,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
		})
		byName[p.Name] = poiID
	}

	for _, rel := range parsed.Relationships {
		fromID, fok := byName[rel.From]
		toID, tok := byName[rel.To]
		if !fok || !tok {
			slog.Debug("dropping intra-file relationship with unresolved endpoint",
				slog.String("path", f.Path), slog.String("from", rel.From), slog.String("to", rel.To))
			continue
		}
		conf := rel.Confidence
		if conf <= 0 || conf > 1 {
			conf = 0.7
		}
		evidence = append(evidence, domain.CandidateEvidence{
			FromPoiID:        fromID,
			ToPoiID:          toID,
			RelationshipType: domain.NormalizeRelationshipType(rel.Type),
			EvidenceSource:   domain.EvidenceIntraFile,
			Confidence:       conf,
		})
	}

	return pois, evidence, nil
}

func dirOf(filePath string) string {
	d := path.Dir(path.Clean(filePath))
	if d == "." {
		return ""
	}
	return d
}

// resolveRelativeImport attempts to match a deterministic import target
// against another file already present in this batch. Cross-batch and
// external-package targets are left unresolved here — they are out of this
// worker's reach since it only ever sees one batch's files, and fall to
// directory- and global-scope resolution (C5/C6) which have wider context.
func resolveRelativeImport(fromPath, rawTarget string, pathIndex map[string]string) (string, bool) {
	if !strings.HasPrefix(rawTarget, ".") {
		return "", false
	}
	base := path.Dir(fromPath)
	candidates := []string{
		path.Clean(path.Join(base, rawTarget)),
	}
	for _, ext := range []string{".go", ".js", ".jsx", ".ts", ".tsx", ".py", ".java"} {
		candidates = append(candidates, path.Clean(path.Join(base, rawTarget))+ext)
	}
	for _, c := range candidates {
		if _, ok := pathIndex[c]; ok {
			return c, true
		}
	}
	return "", false
}

func buildFileAnalysisSystemPrompt() string {
	return "You are a static analysis assistant. Given one source file's content, " +
		"identify its points of interest (functions, classes, notable variables) and any " +
		"relationships between them that are fully contained within this file (e.g. CALLS, " +
		"EXTENDS, USES). Respond with ONLY a single JSON object of the shape " +
		`{"pois":[{"name":"","type":"function|class|variable","start_line":0,"end_line":0}],` +
		`"relationships":[{"from":"","to":"","type":"","confidence":0.0}]}. ` +
		"No markdown fencing, no prose."
}

func buildFileAnalysisUserPrompt(filePath, content string) string {
	return fmt.Sprintf("File: %s\n\n%s", filePath, content)
}
