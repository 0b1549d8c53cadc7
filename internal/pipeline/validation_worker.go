package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// ValidationWorker implements C7: it receives one (from, to, type) key that
// C4, C5 or C6 just wrote evidence for, confirms both endpoints still name
// real POIs, drops self-loops unless the relationship type is one of the
// ones permitted to be reflexive, and forwards surviving keys to
// reconciliation. It holds no state of its own — every check is a fresh
// lookup, so redelivery of the same key is harmless.
type ValidationWorker struct {
	pois   domain.POIRepository
	outbox domain.OutboxRepository
}

// NewValidationWorker constructs a ValidationWorker.
func NewValidationWorker(pois domain.POIRepository, outbox domain.OutboxRepository) *ValidationWorker {
	return &ValidationWorker{pois: pois, outbox: outbox}
}

// HandleRelationshipCandidate is the domain.Queue handler registered against
// QueueRelationshipValidated.
func (w *ValidationWorker) HandleRelationshipCandidate(ctx domain.Context, payload []byte) error {
	var key domain.RelationshipKey
	if err := json.Unmarshal(payload, &key); err != nil {
		return fmt.Errorf("op=validation_worker.handle.decode: %w: %v", domain.ErrDataInvariant, err)
	}

	if key.FromPoiID == key.ToPoiID && !domain.IsReflexivePermitted(key.RelationshipType) {
		slog.Debug("dropping non-reflexive self-loop at validation",
			slog.String("poi_id", key.FromPoiID), slog.String("type", key.RelationshipType))
		return nil
	}

	fromOK, err := w.pois.Exists(ctx, key.FromPoiID)
	if err != nil {
		return fmt.Errorf("op=validation_worker.handle.exists_from poi_id=%s: %w", key.FromPoiID, err)
	}
	toOK, err := w.pois.Exists(ctx, key.ToPoiID)
	if err != nil {
		return fmt.Errorf("op=validation_worker.handle.exists_to poi_id=%s: %w", key.ToPoiID, err)
	}
	if !fromOK || !toOK {
		slog.Warn("relationship candidate has a dangling endpoint, routing to failed-jobs",
			slog.String("from", key.FromPoiID), slog.String("to", key.ToPoiID),
			slog.Bool("from_exists", fromOK), slog.Bool("to_exists", toOK))
		return w.routeToFailedJobs(ctx, key, domain.ErrUnknownEndpoint)
	}

	body, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("op=validation_worker.handle.marshal: %w", err)
	}
	if _, err := w.outbox.Insert(ctx, "relationship.validated", domain.QueueReconciliation, body); err != nil {
		return fmt.Errorf("op=validation_worker.handle.emit: %w", err)
	}
	return nil
}

// failedJobPayload is the full-payload record spec.md §7 requires for a data
// invariant violation: the original candidate key plus the reason it was
// rejected, so the failed-jobs queue carries enough context to inspect or
// replay the rejection without consulting the live POI table.
type failedJobPayload struct {
	RelationshipKey domain.RelationshipKey `json:"relationship_key"`
	Reason          string                 `json:"reason"`
}

// routeToFailedJobs records a data invariant violation by writing key and
// reason to the failed-jobs queue instead of silently dropping the
// candidate. The handler still returns nil: the violation has been durably
// recorded, so the relationship-validated job itself is done and must not be
// redelivered.
func (w *ValidationWorker) routeToFailedJobs(ctx domain.Context, key domain.RelationshipKey, reason error) error {
	body, err := json.Marshal(failedJobPayload{RelationshipKey: key, Reason: reason.Error()})
	if err != nil {
		return fmt.Errorf("op=validation_worker.route_to_failed_jobs.marshal: %w", err)
	}
	if _, err := w.outbox.Insert(ctx, "relationship.rejected", domain.QueueFailedJobs, body); err != nil {
		return fmt.Errorf("op=validation_worker.route_to_failed_jobs.emit: %w", err)
	}
	return nil
}
