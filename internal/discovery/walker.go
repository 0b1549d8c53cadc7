// Package discovery implements the two-phase file discovery batcher (C3,
// EntityScout): a cheap single-writer path enumeration (Phase A) decoupled
// via the relational store from a parallel, token-bounded batching pass
// (Phase B) that hands batches to the file-analysis queue.
package discovery

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// walkerRenewEvery bounds how many files Walk processes between heartbeat
// renewals of the discovery lease, so a walk over a very large tree keeps
// its lease alive rather than losing it to its own TTL mid-walk.
const walkerRenewEvery = 500

// discoveryLeaseName is the single lease name both phases of C3 contend for,
// scoped to the target directory so independent pipeline runs over
// different trees never block each other.
func discoveryLeaseName(targetDir string) string {
	return "discovery-lock:" + targetDir
}

// defaultIgnorePatterns keeps the walker from wasting oracle budget on
// dependency trees, build output and version control metadata that are
// never source-of-truth for the graph being built.
var defaultIgnorePatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/.venv/**",
	"**/__pycache__/**",
}

// Walker performs Phase A: a single-writer walk of the target directory
// that registers every non-ignored, text-like file as domain.FileDiscovered
// and leaves batching/oracle work entirely to Phase B. It holds the
// discovery lease for the duration of the walk so two processes racing to
// walk the same target directory never both register the same files.
type Walker struct {
	files          domain.FileRepository
	lease          domain.Lease
	leaseTTL       time.Duration
	ignorePatterns []string
}

// NewWalker constructs a Walker over the given file repository. extraIgnore
// is appended to the built-in ignore-glob set.
func NewWalker(files domain.FileRepository, lease domain.Lease, leaseTTL time.Duration, extraIgnore []string) *Walker {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	patterns := make([]string, 0, len(defaultIgnorePatterns)+len(extraIgnore))
	patterns = append(patterns, defaultIgnorePatterns...)
	patterns = append(patterns, extraIgnore...)
	return &Walker{files: files, lease: lease, leaseTTL: leaseTTL, ignorePatterns: patterns}
}

// Walk acquires the discovery lease for targetDir, enumerates it, and
// registers every discovered file, returning the count of newly created
// File rows. Losing the lease mid-walk (another process preempted it once
// this TTL lapsed) aborts the walk immediately rather than continuing to
// register files nobody else agrees this process still owns.
func (w *Walker) Walk(ctx domain.Context, targetDir string) (int, error) {
	tracer := otel.Tracer("discovery.walker")
	ctx, span := tracer.Start(ctx, "Walker.Walk")
	defer span.End()
	span.SetAttributes(attribute.String("discovery.target_dir", targetDir))

	leaseName := discoveryLeaseName(targetDir)
	token, ok, err := w.lease.Acquire(ctx, leaseName, w.leaseTTL)
	if err != nil {
		return 0, fmt.Errorf("op=walker.walk.acquire_lease: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("op=walker.walk: %w", domain.ErrLeaseLost)
	}
	defer func() {
		if err := w.lease.Release(ctx, leaseName, token); err != nil {
			slog.Warn("failed to release discovery lease", slog.String("target_dir", targetDir), slog.Any("error", err))
		}
	}()

	created := 0
	sinceRenew := 0
	err = filepath.WalkDir(targetDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("op=walker.walk path=%s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		sinceRenew++
		if sinceRenew >= walkerRenewEvery {
			sinceRenew = 0
			if renewed, rerr := w.lease.Renew(ctx, leaseName, token, w.leaseTTL); rerr != nil {
				return fmt.Errorf("op=walker.walk.renew_lease: %w", rerr)
			} else if !renewed {
				return fmt.Errorf("op=walker.walk: %w", domain.ErrLeaseLost)
			}
		}

		rel, rerr := filepath.Rel(targetDir, path)
		if rerr != nil {
			rel = path
		}
		if w.isIgnored(rel) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return fmt.Errorf("op=walker.walk.stat path=%s: %w", path, ierr)
		}
		if info.Size() == 0 {
			return nil
		}

		isText, derr := looksLikeText(path)
		if derr != nil || !isText {
			return nil
		}

		hash, herr := hashFile(path)
		if herr != nil {
			return fmt.Errorf("op=walker.walk.hash path=%s: %w", path, herr)
		}

		f := domain.File{
			Path:         rel,
			ContentHash:  hash,
			LastModified: info.ModTime(),
			Status:       domain.FileDiscovered,
		}
		if _, cerr := w.files.Create(ctx, f); cerr != nil {
			return fmt.Errorf("op=walker.walk.create path=%s: %w", rel, cerr)
		}
		created++
		return nil
	})
	if err != nil {
		return created, err
	}
	span.SetAttributes(attribute.Int("discovery.files_created", created))
	return created, nil
}

func (w *Walker) isIgnored(relPath string) bool {
	for _, pattern := range w.ignorePatterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
