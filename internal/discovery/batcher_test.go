package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// fakeLease is a minimal in-memory domain.Lease: at most one holder per
// name, ownership tracked by token equality, matching RedisLease's
// compare-and-set semantics closely enough to exercise the discovery
// lease/check-on-write wiring without Redis.
type fakeLease struct {
	held    map[string]string
	denyAll bool
}

func (l *fakeLease) Acquire(_ domain.Context, name string, _ time.Duration) (string, bool, error) {
	if l.denyAll {
		return "", false, nil
	}
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, taken := l.held[name]; taken {
		return "", false, nil
	}
	l.held[name] = "token"
	return "token", true, nil
}

func (l *fakeLease) Renew(_ domain.Context, name, token string, _ time.Duration) (bool, error) {
	return l.held[name] == token, nil
}

func (l *fakeLease) CheckOwnership(_ domain.Context, name, token string) (bool, error) {
	return l.held[name] == token, nil
}

func (l *fakeLease) Release(_ domain.Context, name, token string) error {
	if l.held[name] == token {
		delete(l.held, name)
	}
	return nil
}

type fakeFileRepo struct {
	files map[string]domain.File
}

func newFakeFileRepo() *fakeFileRepo { return &fakeFileRepo{files: map[string]domain.File{}} }

func (f *fakeFileRepo) Create(_ domain.Context, file domain.File) (string, error) {
	file.ID = "id-" + file.Path
	f.files[file.ID] = file
	return file.ID, nil
}

func (f *fakeFileRepo) UpdateStatus(_ domain.Context, id string, status domain.FileStatus) error {
	file, ok := f.files[id]
	if !ok {
		return domain.ErrNotFound
	}
	file.Status = status
	f.files[id] = file
	return nil
}

func (f *fakeFileRepo) Get(_ domain.Context, id string) (domain.File, error) {
	file, ok := f.files[id]
	if !ok {
		return domain.File{}, domain.ErrNotFound
	}
	return file, nil
}

func (f *fakeFileRepo) CountByStatus(_ domain.Context, status domain.FileStatus) (int64, error) {
	var n int64
	for _, file := range f.files {
		if file.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeFileRepo) ListByStatus(_ domain.Context, status domain.FileStatus, limit int) ([]domain.File, error) {
	var out []domain.File
	for _, file := range f.files {
		if file.Status == status {
			out = append(out, file)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

type fakeOutboxRepo struct {
	events []domain.OutboxEvent
}

func (o *fakeOutboxRepo) Insert(_ domain.Context, eventType, queueName string, payload []byte) (int64, error) {
	o.events = append(o.events, domain.OutboxEvent{
		ID: int64(len(o.events) + 1), EventType: eventType, QueueName: queueName, Payload: payload, Status: domain.OutboxPending,
	})
	return int64(len(o.events)), nil
}

func (o *fakeOutboxRepo) ListPending(_ domain.Context, limit int) ([]domain.OutboxEvent, error) {
	return o.events, nil
}

func (o *fakeOutboxRepo) MarkPublished(_ domain.Context, id int64) error { return nil }

func TestBatcher_RunOnce_SplitsOnFileCount(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package x\nfunc F() {}\n"), 0o644))
	}

	files := newFakeFileRepo()
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		_, err := files.Create(nil, domain.File{Path: name, Status: domain.FileDiscovered})
		require.NoError(t, err)
	}

	outbox := &fakeOutboxRepo{}
	b := NewBatcher(files, outbox, &fakeLease{}, dir, "claude-3-5-sonnet-latest", 2, 60000, time.Second)

	n, err := b.RunOnce(nil)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, outbox.events, 2)

	var first BatchPayload
	require.NoError(t, json.Unmarshal(outbox.events[0].Payload, &first))
	require.Len(t, first.Files, 2)

	for _, f := range files.files {
		require.Equal(t, domain.FileAnalyzing, f.Status)
	}
}

func TestBatcher_RunOnce_NoDiscoveredFiles(t *testing.T) {
	files := newFakeFileRepo()
	outbox := &fakeOutboxRepo{}
	b := NewBatcher(files, outbox, &fakeLease{}, t.TempDir(), "claude-3-5-sonnet-latest", 10, 60000, time.Second)

	n, err := b.RunOnce(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, outbox.events)
}

func TestBatcher_RunOnce_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("package x\n"), 0o644))

	files := newFakeFileRepo()
	_, err := files.Create(nil, domain.File{Path: "a.go", Status: domain.FileDiscovered})
	require.NoError(t, err)

	outbox := &fakeOutboxRepo{}
	b := NewBatcher(files, outbox, &fakeLease{denyAll: true}, dir, "claude-3-5-sonnet-latest", 10, 60000, time.Second)

	n, err := b.RunOnce(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Empty(t, outbox.events)
}

// preemptingLease grants Acquire once, then reports the caller no longer
// owns the lease on the very next CheckOwnership call — simulating another
// process preempting the lease between acquisition and a batch emission.
type preemptingLease struct {
	fakeLease
	checksLeftBeforePreempt int
}

func (l *preemptingLease) CheckOwnership(ctx domain.Context, name, token string) (bool, error) {
	if l.checksLeftBeforePreempt <= 0 {
		return false, nil
	}
	l.checksLeftBeforePreempt--
	return l.fakeLease.CheckOwnership(ctx, name, token)
}

func TestBatcher_RunOnce_AbortsWithoutEmittingFurtherBatchesWhenLeaseLost(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.go", "b.go"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("package x\nfunc F() {}\n"), 0o644))
	}

	files := newFakeFileRepo()
	for _, name := range []string{"a.go", "b.go"} {
		_, err := files.Create(nil, domain.File{Path: name, Status: domain.FileDiscovered})
		require.NoError(t, err)
	}

	outbox := &fakeOutboxRepo{}
	// maxFiles of 1 forces a flush (and therefore a CheckOwnership call) as
	// soon as the second file is seen; checksLeftBeforePreempt of 0 means
	// that very first check reports the lease already lost.
	lease := &preemptingLease{checksLeftBeforePreempt: 0}
	b := NewBatcher(files, outbox, lease, dir, "claude-3-5-sonnet-latest", 1, 60000, time.Second)

	n, err := b.RunOnce(nil)
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrLeaseLost)
	require.Equal(t, 0, n)
	require.Empty(t, outbox.events)
}
