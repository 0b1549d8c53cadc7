// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
	ErrLeaseLost         = errors.New("lease lost")
	ErrUnknownEndpoint   = errors.New("unknown endpoint")
	ErrDataInvariant     = errors.New("data invariant violation")
)

// FileStatus captures the lifecycle state of a discovered file.
// Transitions are monotone: discovered -> analyzing -> (analyzed | failed).
type FileStatus string

const (
	// FileDiscovered is the status right after path enumeration.
	FileDiscovered FileStatus = "discovered"
	// FileAnalyzing is the status while a file-analysis job owns the file.
	FileAnalyzing FileStatus = "analyzing"
	// FileAnalyzed is the terminal success status.
	FileAnalyzed FileStatus = "analyzed"
	// FileFailed is the terminal failure status, after retries are exhausted.
	FileFailed FileStatus = "failed"
)

// File is a discovered source file tracked through the analysis pipeline.
//go:generate mockery --name=FileRepository --with-expecter --filename=file_repository_mock.go
//go:generate mockery --name=POIRepository --with-expecter --filename=poi_repository_mock.go
//go:generate mockery --name=EvidenceRepository --with-expecter --filename=evidence_repository_mock.go
//go:generate mockery --name=RelationshipRepository --with-expecter --filename=relationship_repository_mock.go
//go:generate mockery --name=DirectorySummaryRepository --with-expecter --filename=directory_summary_repository_mock.go
//go:generate mockery --name=OutboxRepository --with-expecter --filename=outbox_repository_mock.go
//go:generate mockery --name=Queue --with-expecter --filename=queue_mock.go
//go:generate mockery --name=Oracle --with-expecter --filename=oracle_mock.go
//go:generate mockery --name=GraphStore --with-expecter --filename=graphstore_mock.go
//go:generate mockery --name=Lease --with-expecter --filename=lease_mock.go
type File struct {
	// ID is the unique identifier for the file (ulid).
	ID string
	// Path is the file path relative to the ingested target directory.
	Path string
	// ContentHash is a content digest used to detect unchanged files on re-ingest.
	ContentHash string
	// LastModified is the filesystem mtime observed at discovery time.
	LastModified time.Time
	// Status is the current lifecycle state of the file.
	Status FileStatus
}

// POIType enumerates the kinds of points of interest the oracle and the
// deterministic pre-pass can extract.
type POIType string

const (
	POIFunction  POIType = "function"
	POIClass     POIType = "class"
	POIVariable  POIType = "variable"
	POIFile      POIType = "file"
	POIDirectory POIType = "directory"
)

// POI is a named code element extracted from a source file. PoiID is stable
// across runs: it is derived from file path + kind + name + start line, so
// the same element always resolves to the same identity across re-ingests.
type POI struct {
	// PoiID is the stable, deterministic identifier for this point of interest.
	PoiID string
	// FileID is the owning file's ID.
	FileID string
	// Type is the kind of point of interest.
	Type POIType
	// Name is the identifier name (function/class/variable name, or path for file/directory POIs).
	Name string
	// FilePath is the file path the POI was extracted from.
	FilePath string
	// StartLine is the 1-based line the POI begins on.
	StartLine int
	// EndLine is the 1-based line the POI ends on.
	EndLine int
	// Metadata holds free-form annotations (e.g. signature, docstring, language).
	Metadata map[string]string
}

// ComputePOIID derives the stable identifier for a point of interest from
// its file path, kind, name and start line. The same element therefore
// resolves to the same identity across re-ingests of an unchanged file,
// which is what lets POI.Upsert be idempotent.
func ComputePOIID(filePath string, typ POIType, name string, startLine int) string {
	return fmt.Sprintf("%s::%s::%s::%d", filePath, typ, name, startLine)
}

// relationshipTypeSynonyms maps raw oracle/deterministic wording onto the
// canonical relationship_type every evidence row and accepted relationship
// agrees on, so triangulation groups observations by meaning rather than by
// the exact word a given source happened to use.
var relationshipTypeSynonyms = map[string]string{
	"invoke": "calls", "invokes": "calls", "call": "calls", "calling": "calls",
	"import": "imports", "require": "imports", "requires": "imports",
	"inherit": "extends", "inherits": "extends", "extend": "extends", "subclasses": "extends",
	"use": "uses", "using": "uses",
	"reference": "references", "referencing": "references",
}

// reflexiveAllowedTypes are relationship types permitted to connect a POI
// to itself; every other type with from==to is dropped as a self-loop.
var reflexiveAllowedTypes = map[string]bool{
	"recursive_call": true,
	"self_reference": true,
}

// NormalizeRelationshipType lowercases and canonicalizes a raw relationship
// type string. Every evidence-producing worker calls this before writing a
// row, so two sources describing the same relationship in different words
// land on the same (from, to, type) key for reconciliation.
func NormalizeRelationshipType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if canon, ok := relationshipTypeSynonyms[t]; ok {
		return canon
	}
	return t
}

// IsReflexivePermitted reports whether relationshipType may legitimately
// connect a POI to itself.
func IsReflexivePermitted(relationshipType string) bool {
	return reflexiveAllowedTypes[relationshipType]
}

// EvidenceSource is the analysis scope that produced a candidate relationship
// observation. Reconciliation weighs sources differently.
type EvidenceSource string

const (
	EvidenceDeterministic  EvidenceSource = "deterministic"
	EvidenceIntraFile      EvidenceSource = "intra_file"
	EvidenceIntraDirectory EvidenceSource = "intra_directory"
	EvidenceGlobal         EvidenceSource = "global"
)

// CandidateEvidence is one observation of a relationship between two POIs.
// Rows are append-only and immutable once written.
type CandidateEvidence struct {
	// ID is the row's storage-assigned identifier.
	ID int64
	// FromPoiID is the source POI of the observed relationship.
	FromPoiID string
	// ToPoiID is the target POI of the observed relationship.
	ToPoiID string
	// RelationshipType names the observed relationship (e.g. CALLS, IMPORTS, EXTENDS).
	RelationshipType string
	// EvidenceSource is the analysis scope that produced this observation.
	EvidenceSource EvidenceSource
	// Confidence is the source-reported confidence in [0,1].
	Confidence float64
	// Metadata holds free-form supporting detail (snippet, reasoning, line number).
	Metadata map[string]string
	// CreatedAt is when the observation was recorded.
	CreatedAt time.Time
}

// AcceptedRelationship is a triangulated, reconciled relationship promoted by
// the reconciliation stage. Unique on (FromPoiID, ToPoiID, RelationshipType).
type AcceptedRelationship struct {
	// ID is the row's storage-assigned identifier.
	ID int64
	// FromPoiID is the source POI of the accepted relationship.
	FromPoiID string
	// ToPoiID is the target POI of the accepted relationship.
	ToPoiID string
	// RelationshipType names the accepted relationship.
	RelationshipType string
	// ConfidenceScore is the combined confidence after triangulation.
	ConfidenceScore float64
	// Metadata carries forward supporting detail from the evidence set.
	Metadata map[string]string
}

// DirectorySummary is the oracle-produced description of a directory's
// purpose, used as context when resolving directory-scope relationships.
type DirectorySummary struct {
	// DirectoryPath is the path the summary describes.
	DirectoryPath string
	// Summary is the natural-language description of the directory's purpose.
	Summary string
	// Metadata holds free-form annotations (e.g. primary language, file count).
	Metadata map[string]string
}

// OutboxStatus is the lifecycle of an outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// OutboxEvent is an append-only, table-backed queue row. A row is written in
// the same relational transaction as the state change it announces, so the
// outbox publisher can later enqueue it exactly once.
type OutboxEvent struct {
	// ID is the row's storage-assigned identifier.
	ID int64
	// EventType names the domain event (e.g. "file.discovered", "directory.aggregated").
	EventType string
	// QueueName is the destination queue for this event once published.
	QueueName string
	// Payload is the serialized job payload.
	Payload []byte
	// Status is the current publication status of this row.
	Status OutboxStatus
	// CreatedAt is when the row was written.
	CreatedAt time.Time
	// ProcessedAt is when the row was published, if it has been.
	ProcessedAt *time.Time
}

// Queue names are a contract shared by every stage.
const (
	QueueFileAnalysis           = "file-analysis-queue"
	QueueDirectoryAggregation   = "directory-aggregation-queue"
	QueueDirectoryResolution    = "directory-resolution-queue"
	QueueRelationshipResolution = "relationship-resolution-queue"
	QueueRelationshipValidated  = "relationship-validated-queue"
	QueueReconciliation         = "reconciliation-queue"
	QueueGlobalResolution       = "global-resolution-queue"
	QueueGraphBuilder           = "graph-builder-queue"
	QueueAnalysisFindings       = "analysis-findings-queue"
	QueueFailedJobs             = "failed-jobs"
)

// RelationshipKey identifies a (from, to, type) evidence group that
// reconciliation triangulates as a unit.
type RelationshipKey struct {
	FromPoiID        string
	ToPoiID          string
	RelationshipType string
}

// Repositories (ports)

// FileRepository is responsible for managing discovered files.
type FileRepository interface {
	// Create registers a newly discovered file and returns its ID.
	Create(ctx Context, f File) (string, error)
	// UpdateStatus transitions a file to a new lifecycle status.
	UpdateStatus(ctx Context, id string, status FileStatus) error
	// Get retrieves a file by ID.
	Get(ctx Context, id string) (File, error)
	// CountByStatus reports how many files currently hold the given status.
	CountByStatus(ctx Context, status FileStatus) (int64, error)
	// ListByStatus returns up to limit files holding the given status,
	// ordered by id so repeated calls can page through a large discovered
	// set without skipping or re-visiting rows mutated mid-scan.
	ListByStatus(ctx Context, status FileStatus, limit int) ([]File, error)
}

// POIRepository is responsible for managing points of interest.
type POIRepository interface {
	// Upsert inserts or updates a POI, keyed by its stable PoiID.
	Upsert(ctx Context, p POI) error
	// Get retrieves a POI by ID.
	Get(ctx Context, poiID string) (POI, error)
	// Exists reports whether a POI with the given ID has been recorded.
	Exists(ctx Context, poiID string) (bool, error)
	// ListByDirectory returns every POI whose file lives under directoryPath.
	ListByDirectory(ctx Context, directoryPath string) ([]POI, error)
	// ListByFile returns every POI extracted from the given file.
	ListByFile(ctx Context, fileID string) ([]POI, error)
	// SampleCrossDirectory returns up to limit POIs drawn from directories
	// other than excludeDirectoryPath, for C6's cross-directory pair sampling.
	SampleCrossDirectory(ctx Context, excludeDirectoryPath string, limit int) ([]POI, error)
}

// EvidenceRepository is responsible for managing candidate relationship evidence.
type EvidenceRepository interface {
	// Insert appends one observation and returns its assigned ID.
	Insert(ctx Context, e CandidateEvidence) (int64, error)
	// ListByRelationshipKey returns every observation recorded for one (from, to, type) tuple.
	ListByRelationshipKey(ctx Context, fromPoiID, toPoiID, relationshipType string) ([]CandidateEvidence, error)
	// ListPendingKeys returns relationship keys that have evidence but no reconciliation decision yet.
	ListPendingKeys(ctx Context) ([]RelationshipKey, error)
}

// RelationshipRepository is responsible for managing accepted relationships.
type RelationshipRepository interface {
	// Upsert inserts or updates an accepted relationship.
	Upsert(ctx Context, r AcceptedRelationship) error
	// Get retrieves an accepted relationship by its key, if one exists.
	Get(ctx Context, fromPoiID, toPoiID, relationshipType string) (AcceptedRelationship, bool, error)
	// UpsertAndNotify upserts r and inserts one outbox event addressed to
	// queueName in the same transaction, so a crash between the two writes
	// is impossible: either both land or neither does. Reconciliation uses
	// this instead of a standalone Upsert + OutboxRepository.Insert pair so
	// an accepted relationship can never go un-announced to the graph
	// builder.
	UpsertAndNotify(ctx Context, r AcceptedRelationship, eventType, queueName string, payload []byte) error
}

// DirectorySummaryRepository is responsible for managing directory summaries.
type DirectorySummaryRepository interface {
	// Upsert inserts or updates a directory summary.
	Upsert(ctx Context, d DirectorySummary) error
	// Get retrieves a directory summary by path.
	Get(ctx Context, directoryPath string) (DirectorySummary, error)
}

// OutboxRepository is responsible for managing the transactional outbox.
type OutboxRepository interface {
	// Insert must be called within the same transaction as the state change it announces.
	Insert(ctx Context, eventType, queueName string, payload []byte) (int64, error)
	// ListPending returns up to limit unpublished rows, oldest first.
	ListPending(ctx Context, limit int) ([]OutboxEvent, error)
	// MarkPublished records that a row has been handed to the queue broker.
	MarkPublished(ctx Context, id int64) error
}

// AnalysisResultWriter commits one file-analysis batch's output as a single
// relational transaction: every POI and evidence row produced by the files
// that succeeded, those files' terminal status, and one outbox event per
// directory the batch touched. Files that failed analysis are reported
// through MarkFailed instead, independently of the batch commit, so one
// bad file never aborts its siblings.
type AnalysisResultWriter interface {
	// CommitAnalysis upserts pois, inserts evidence, marks every id in
	// succeededFileIDs as FileAnalyzed, and inserts one outbox event per
	// directory in directoryPaths addressed to the directory-aggregation
	// queue — all within one transaction.
	CommitAnalysis(ctx Context, succeededFileIDs []string, pois []POI, evidence []CandidateEvidence, directoryPaths []string) error
	// MarkFailed transitions a file to FileFailed, recording reason for
	// operator visibility. Called outside the batch transaction so a single
	// file's failure never rolls back its siblings' results.
	MarkFailed(ctx Context, fileID, reason string) error
}

// DirectoryResolutionWriter commits one directory-resolution worker's
// output — the directory's summary, its intra-directory evidence, and the
// outbox event handing the directory on to global-scope resolution — as a
// single transaction.
type DirectoryResolutionWriter interface {
	CommitDirectoryResolution(ctx Context, summary DirectorySummary, evidence []CandidateEvidence, nextQueue string, nextPayload []byte) error
}

// Queue (port)

// Queue abstracts the broker adapter: named durable queues with retry,
// delay, and dead-letter semantics.
type Queue interface {
	// Enqueue submits payload onto the named queue.
	Enqueue(ctx Context, queueName string, payload []byte) error
	// Consume registers a handler for the named queue at the given concurrency
	// and blocks until ctx is canceled.
	Consume(ctx Context, queueName string, handler func(Context, []byte) error, concurrency int) error
}

// Lease (port)

// Lease abstracts the distributed compare-and-set lease used by the file
// discovery sweep and the outbox publisher's leadership election.
type Lease interface {
	// Acquire attempts to take the named lease, returning a caller-private
	// ownership token on success.
	Acquire(ctx Context, name string, ttl time.Duration) (token string, ok bool, err error)
	// Renew atomically verifies the caller still owns the lease (comparing the
	// stored owner token) and extends its TTL if so.
	Renew(ctx Context, name, token string, ttl time.Duration) (ok bool, err error)
	// CheckOwnership re-verifies ownership without extending the TTL; used as
	// the check-on-write step immediately before a side-effecting emission.
	CheckOwnership(ctx Context, name, token string) (ok bool, err error)
	// Release gives up the lease early.
	Release(ctx Context, name, token string) error
}

// Oracle (port)

// Oracle is the opaque LLM request/response collaborator used for semantic
// extraction and relationship resolution. Implementations enforce
// retry/backoff, a global concurrency cap, and a hard per-call timeout.
type Oracle interface {
	// Call sends a system/user prompt pair and returns the raw response body plus token usage.
	Call(ctx Context, system, user string) (body string, usage Usage, err error)
}

// Usage reports token accounting for one oracle call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// GraphStore (port)

// GraphStore is the bulk-write sink the graph builder stage targets.
type GraphStore interface {
	// UpsertPOIs writes POI nodes in bulk.
	UpsertPOIs(ctx Context, pois []POI) error
	// UpsertRelationships writes relationship edges in bulk.
	UpsertRelationships(ctx Context, rels []AcceptedRelationship) error
}

// PipelineRun is the persisted record of one `start` invocation, the
// mechanism by which a separate `status` or `stop` invocation (a distinct
// OS process from the one running the pipeline) observes or requests a
// change to that run's state without sharing the in-memory Registry actor.
type PipelineRun struct {
	PipelineID      string
	TargetDirectory string
	Status          string
	Phase           string
	StartedAt       time.Time
	UpdatedAt       time.Time
	Error           string
	FailedJobCount  int
	StopRequested   bool
}

// PipelineRunRepository (port)

// PipelineRunRepository persists PipelineRun snapshots so the `status` and
// `stop` CLI subcommands can observe and signal a run from outside the
// process that's actually draining its queues.
type PipelineRunRepository interface {
	// Upsert writes the current snapshot for one pipeline run.
	Upsert(ctx Context, run PipelineRun) error
	// Get retrieves one run by id.
	Get(ctx Context, pipelineID string) (PipelineRun, bool, error)
	// RequestStop flags a run for graceful shutdown; the running process
	// polls this flag and is responsible for clearing it once it exits.
	RequestStop(ctx Context, pipelineID string) error
	// Clear discards every persisted run record.
	Clear(ctx Context) error
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
