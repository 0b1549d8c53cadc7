package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/observability"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// evidenceSourceWeights is the noisy-OR weight assigned to each evidence
// source when combining observations into one confidence score. Sources
// closer to the text (deterministic parsing) are trusted more than sources
// that require broader, fuzzier context (global, cross-directory sampling).
var evidenceSourceWeights = map[domain.EvidenceSource]float64{
	domain.EvidenceDeterministic:  1.0,
	domain.EvidenceIntraFile:      0.7,
	domain.EvidenceIntraDirectory: 0.5,
	domain.EvidenceGlobal:         0.4,
}

// acceptanceConfidenceFloor is the combined-confidence threshold above which
// a relationship is promoted even when only one source observed it.
const acceptanceConfidenceFloor = 0.85

// ReconciliationWorker implements C8: for one (from, to, type) key, it loads
// every candidate observation recorded so far, combines them into a single
// confidence score via a noisy-OR combiner, and promotes the key to an
// accepted relationship when the evidence triangulates — multiple
// independent sources agree, or a deterministic source saw it directly, or
// the combined confidence alone clears a high bar.
type ReconciliationWorker struct {
	evidence      domain.EvidenceRepository
	relationships domain.RelationshipRepository
}

// NewReconciliationWorker constructs a ReconciliationWorker. The outbox write
// for an accepted relationship goes through relationships.UpsertAndNotify
// rather than a standalone OutboxRepository, so this worker holds no outbox
// dependency of its own.
func NewReconciliationWorker(evidence domain.EvidenceRepository, relationships domain.RelationshipRepository) *ReconciliationWorker {
	return &ReconciliationWorker{evidence: evidence, relationships: relationships}
}

// HandleReconciliation is the domain.Queue handler registered against
// QueueReconciliation.
func (w *ReconciliationWorker) HandleReconciliation(ctx domain.Context, payload []byte) error {
	var key domain.RelationshipKey
	if err := json.Unmarshal(payload, &key); err != nil {
		return fmt.Errorf("op=reconciliation_worker.handle.decode: %w: %v", domain.ErrDataInvariant, err)
	}

	observations, err := w.evidence.ListByRelationshipKey(ctx, key.FromPoiID, key.ToPoiID, key.RelationshipType)
	if err != nil {
		return fmt.Errorf("op=reconciliation_worker.handle.list: %w", err)
	}
	if len(observations) == 0 {
		return nil
	}

	combined, distinctSources, tags := combineEvidence(observations)
	observability.RecordTriangulationConfidence(combined)

	multiSource := len(distinctSources) >= 2
	accepted := multiSource || distinctSources[domain.EvidenceDeterministic] || combined >= acceptanceConfidenceFloor
	if !accepted {
		slog.Debug("relationship candidate did not triangulate",
			slog.String("from", key.FromPoiID), slog.String("to", key.ToPoiID),
			slog.String("type", key.RelationshipType), slog.Float64("confidence", combined))
		return nil
	}

	switch {
	case multiSource:
		observability.RecordTriangulationAccepted("multi_source")
	case distinctSources[domain.EvidenceDeterministic]:
		observability.RecordTriangulationAccepted("deterministic")
	default:
		observability.RecordTriangulationAccepted("high_confidence")
	}

	existing, found, err := w.relationships.Get(ctx, key.FromPoiID, key.ToPoiID, key.RelationshipType)
	if err != nil {
		return fmt.Errorf("op=reconciliation_worker.handle.get_existing: %w", err)
	}
	if found && existing.ConfidenceScore >= combined {
		slog.Debug("keeping higher-confidence existing relationship",
			slog.String("from", key.FromPoiID), slog.String("to", key.ToPoiID), slog.String("type", key.RelationshipType))
		return nil
	}

	metadata := map[string]string{"sources": tags}
	if found {
		for k, v := range existing.Metadata {
			if _, ok := metadata[k]; !ok {
				metadata[k] = v
			}
		}
	}

	rel := domain.AcceptedRelationship{
		FromPoiID:        key.FromPoiID,
		ToPoiID:          key.ToPoiID,
		RelationshipType: key.RelationshipType,
		ConfidenceScore:  combined,
		Metadata:         metadata,
	}
	body, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("op=reconciliation_worker.handle.marshal: %w", err)
	}
	if err := w.relationships.UpsertAndNotify(ctx, rel, "relationship.accepted", domain.QueueGraphBuilder, body); err != nil {
		return fmt.Errorf("op=reconciliation_worker.handle.upsert_and_notify: %w", err)
	}
	return nil
}

// combineEvidence applies the noisy-OR combiner C = 1 - prod(1 - w_s*c_s)
// over the highest-confidence observation per distinct source, and returns
// which sources contributed plus a sorted, comma-joined tag string for
// storage in the accepted relationship's metadata.
func combineEvidence(observations []domain.CandidateEvidence) (float64, map[domain.EvidenceSource]bool, string) {
	bestBySource := make(map[domain.EvidenceSource]float64, len(observations))
	for _, o := range observations {
		if o.Confidence > bestBySource[o.EvidenceSource] {
			bestBySource[o.EvidenceSource] = o.Confidence
		}
	}

	product := 1.0
	distinct := make(map[domain.EvidenceSource]bool, len(bestBySource))
	for source, conf := range bestBySource {
		weight := evidenceSourceWeights[source]
		product *= 1 - weight*conf
		distinct[source] = true
	}

	tags := make([]string, 0, len(distinct))
	for source := range distinct {
		tags = append(tags, string(source))
	}
	sort.Strings(tags)

	combined := 1 - product
	return combined, distinct, joinTags(tags)
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}
