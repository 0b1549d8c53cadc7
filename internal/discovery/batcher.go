package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// FileUnit is one file handed to the File Analysis Worker inside a batch.
type FileUnit struct {
	FileID  string `json:"file_id"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// BatchPayload is the outbox event body routed to the file-analysis queue.
type BatchPayload struct {
	Files []FileUnit `json:"files"`
}

// batcherRenewEvery bounds how many files RunOnce processes between
// heartbeat renewals of the discovery lease, mirroring Walker's cadence for
// the same lease during a long-running batching pass.
const batcherRenewEvery = 200

// Batcher performs Phase B: it pages through domain.FileDiscovered rows,
// packs them into batches bounded by both file count and an approximate
// token budget, and hands each batch to the outbox so C2 delivers it to the
// file-analysis queue with the same at-least-once guarantee every other
// stage gets. Each tick holds the same discovery lease Walker uses for
// Phase A and re-verifies ownership immediately before every batch
// emission, so a process that outlives its lease never double-emits a
// batch another process already took over.
type Batcher struct {
	files     domain.FileRepository
	outbox    domain.OutboxRepository
	lease     domain.Lease
	leaseTTL  time.Duration
	targetDir string
	model     string
	maxFiles  int
	maxTokens int
	pageSize  int
}

// NewBatcher constructs a Batcher rooted at targetDir. model is used only to
// pick a tokenizer encoding via the shared token counter; it need not match
// the oracle model exactly since batching only needs an approximate budget.
func NewBatcher(files domain.FileRepository, outbox domain.OutboxRepository, lease domain.Lease, targetDir, model string, maxFiles, maxTokens int, leaseTTL time.Duration) *Batcher {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if maxTokens <= 0 {
		maxTokens = 60000
	}
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &Batcher{
		files:     files,
		outbox:    outbox,
		lease:     lease,
		leaseTTL:  leaseTTL,
		targetDir: targetDir,
		model:     model,
		maxFiles:  maxFiles,
		maxTokens: maxTokens,
		pageSize:  maxFiles * 4,
	}
}

// RunOnce pages through one batch's worth of discovered files, emits zero or
// more batches, and returns how many files it enqueued. It returns 0 once
// the discovered queue is drained for this tick.
func (b *Batcher) RunOnce(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("discovery.batcher")
	ctx, span := tracer.Start(ctx, "Batcher.RunOnce")
	defer span.End()

	leaseName := discoveryLeaseName(b.targetDir)
	token, ok, err := b.lease.Acquire(ctx, leaseName, b.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("op=batcher.run_once.acquire_lease: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer func() {
		if err := b.lease.Release(ctx, leaseName, token); err != nil {
			slog.Warn("failed to release discovery lease", slog.String("target_dir", b.targetDir), slog.Any("error", err))
		}
	}()

	discovered, err := b.files.ListByStatus(ctx, domain.FileDiscovered, b.pageSize)
	if err != nil {
		return 0, fmt.Errorf("op=batcher.run_once.list: %w", err)
	}
	if len(discovered) == 0 {
		return 0, nil
	}

	enqueued := 0
	batch := make([]FileUnit, 0, b.maxFiles)
	tokens := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.emit(ctx, leaseName, token, batch); err != nil {
			return err
		}
		enqueued += len(batch)
		batch = make([]FileUnit, 0, b.maxFiles)
		tokens = 0
		return nil
	}

	sinceRenew := 0
	for _, f := range discovered {
		sinceRenew++
		if sinceRenew >= batcherRenewEvery {
			sinceRenew = 0
			if renewed, rerr := b.lease.Renew(ctx, leaseName, token, b.leaseTTL); rerr != nil {
				return enqueued, fmt.Errorf("op=batcher.run_once.renew_lease: %w", rerr)
			} else if !renewed {
				return enqueued, fmt.Errorf("op=batcher.run_once: %w", domain.ErrLeaseLost)
			}
		}

		content, err := os.ReadFile(filepath.Join(b.targetDir, f.Path))
		if err != nil {
			slog.Warn("batcher skipping unreadable file", slog.String("path", f.Path), slog.Any("error", err))
			continue
		}

		fileTokens, terr := tokencount.CountTokensDefault(string(content), b.model)
		if terr != nil {
			fileTokens = len(content) / 4
		}

		if len(batch) > 0 && (len(batch) >= b.maxFiles || tokens+fileTokens > b.maxTokens) {
			if err := flush(); err != nil {
				return enqueued, err
			}
		}

		batch = append(batch, FileUnit{FileID: f.ID, Path: f.Path, Content: string(content)})
		tokens += fileTokens

		if err := b.files.UpdateStatus(ctx, f.ID, domain.FileAnalyzing); err != nil {
			return enqueued, fmt.Errorf("op=batcher.run_once.mark_analyzing file=%s: %w", f.ID, err)
		}
	}
	if err := flush(); err != nil {
		return enqueued, err
	}

	span.SetAttributes(attribute.Int("discovery.files_enqueued", enqueued))
	return enqueued, nil
}

// emit re-verifies lease ownership immediately before writing the outbox
// row — the check-on-write step — so a batch is never enqueued after this
// process's discovery lease has already been preempted by another holder.
func (b *Batcher) emit(ctx domain.Context, leaseName, token string, batch []FileUnit) error {
	owns, err := b.lease.CheckOwnership(ctx, leaseName, token)
	if err != nil {
		return fmt.Errorf("op=batcher.emit.check_ownership: %w", err)
	}
	if !owns {
		return fmt.Errorf("op=batcher.emit: %w", domain.ErrLeaseLost)
	}

	payload, err := json.Marshal(BatchPayload{Files: batch})
	if err != nil {
		return fmt.Errorf("op=batcher.emit.marshal: %w", err)
	}
	if _, err := b.outbox.Insert(ctx, "file_analysis_batch", domain.QueueFileAnalysis, payload); err != nil {
		return fmt.Errorf("op=batcher.emit.insert: %w", err)
	}
	return nil
}

// Run ticks RunOnce every interval until ctx is canceled, draining whatever
// is currently discovered on each tick before sleeping again.
func (b *Batcher) Run(ctx domain.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("file discovery batcher stopping")
			return
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

func (b *Batcher) drain(ctx domain.Context) {
	for {
		n, err := b.RunOnce(ctx)
		if err != nil {
			slog.Error("batcher tick failed", slog.Any("error", err))
			return
		}
		if n == 0 {
			return
		}
	}
}
