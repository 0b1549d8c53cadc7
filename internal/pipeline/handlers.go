package pipeline

import "github.com/fairyhunter13/cogtriangulate/internal/domain"

// QueueHandler is the signature every stage worker exposes to the broker:
// decode payload, act, return an error that determines retry vs dead-letter.
type QueueHandler func(ctx domain.Context, payload []byte) error

// Dependencies collects every adapter a pipeline run needs to construct its
// handlers. Passing this one struct into NewHandlers, rather than switching
// on a job's class name to decide what to build, keeps each handler's
// dependency set explicit and typed at compile time.
type Dependencies struct {
	POIs            domain.POIRepository
	Evidence        domain.EvidenceRepository
	Relationships   domain.RelationshipRepository
	Outbox          domain.OutboxRepository
	AnalysisWriter  domain.AnalysisResultWriter
	DirectoryWriter domain.DirectoryResolutionWriter
	Oracle          domain.Oracle
	Graph           domain.GraphStore
}

// Handlers is the typed queue-name -> handler registry built once per
// process from Dependencies. It replaces a dynamic factory that would
// switch on a job's declared class name to decide which worker handles it:
// every queue this pipeline knows about is wired exactly once, at startup,
// to a concrete handler closing over the dependencies it actually needs.
type Handlers map[string]QueueHandler

// NewHandlers constructs every stage worker from deps and returns the
// queue-name -> handler map cmd/pipeline registers with the broker.
func NewHandlers(deps Dependencies) Handlers {
	analysis := NewAnalysisWorker(deps.Oracle, deps.AnalysisWriter)
	aggregation := NewAggregationWorker(deps.POIs, deps.Outbox)
	resolution := NewResolutionWorker(deps.Oracle, deps.DirectoryWriter)
	global := NewGlobalResolutionWorker(deps.POIs, deps.Evidence, deps.Outbox, deps.Oracle)
	validation := NewValidationWorker(deps.POIs, deps.Outbox)
	reconciliation := NewReconciliationWorker(deps.Evidence, deps.Relationships)
	graphBuilder := NewGraphBuilderWorker(deps.POIs, deps.Graph)

	return Handlers{
		domain.QueueFileAnalysis:           analysis.HandleBatch,
		domain.QueueDirectoryAggregation:   aggregation.HandleDirectoryTouched,
		domain.QueueDirectoryResolution:    resolution.HandleDirectoryAggregated,
		domain.QueueRelationshipResolution: global.HandleRelationshipResolution,
		domain.QueueRelationshipValidated:  validation.HandleRelationshipCandidate,
		domain.QueueReconciliation:         reconciliation.HandleReconciliation,
		domain.QueueGraphBuilder:           graphBuilder.HandleAcceptedRelationship,
	}
}
