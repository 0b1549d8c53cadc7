package pipeline

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// RunStatus is the lifecycle state of one pipeline run tracked by Registry.
type RunStatus string

const (
	RunStarting              RunStatus = "starting"
	RunRunning               RunStatus = "running"
	RunCompleted             RunStatus = "completed"
	RunCompletedWithFailures RunStatus = "completed_with_failures"
	RunFailed                RunStatus = "failed"
	RunStopped               RunStatus = "stopped"
)

// RunSnapshot is an immutable point-in-time view of one pipeline run,
// returned by Registry.Status. Since every field is read from the single
// owning actor goroutine, a caller never observes a torn mix of fields from
// two different mutations.
type RunSnapshot struct {
	PipelineID      string
	TargetDirectory string
	Status          RunStatus
	Phase           string
	StartedAt       time.Time
	UpdatedAt       time.Time
	Error           string
	FailedJobCount  int
}

type registryCommand struct {
	kind      string
	id        string
	targetDir string
	phase     string
	status    RunStatus
	errMsg    string
	failedN   int
	reply     chan any
}

// Registry is the single owned actor tracking every active and recently
// finished pipeline run. It replaces a package-level mutable map of active
// pipelines: every read and write is a message sent to the one goroutine
// Run starts, so a Status call always observes a consistent snapshot rather
// than racing a concurrent mutation.
type Registry struct {
	cmds chan registryCommand
}

// NewRegistry constructs a Registry. Callers must call Run in a goroutine
// before sending any command.
func NewRegistry() *Registry {
	return &Registry{cmds: make(chan registryCommand)}
}

// Run is the actor loop: it owns the run map exclusively and must be
// started in its own goroutine before any Registry method is called. It
// returns when ctx is canceled.
func (r *Registry) Run(ctx domain.Context) {
	runs := make(map[string]*RunSnapshot)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.cmds:
			switch cmd.kind {
			case "start":
				now := time.Now()
				runs[cmd.id] = &RunSnapshot{
					PipelineID:      cmd.id,
					TargetDirectory: cmd.targetDir,
					Status:          RunStarting,
					Phase:           "discovery",
					StartedAt:       now,
					UpdatedAt:       now,
				}
				cmd.reply <- nil
			case "update_phase":
				if run, ok := runs[cmd.id]; ok {
					run.Phase = cmd.phase
					run.Status = RunRunning
					run.UpdatedAt = time.Now()
				}
				cmd.reply <- nil
			case "finish":
				if run, ok := runs[cmd.id]; ok {
					run.Status = cmd.status
					run.Error = cmd.errMsg
					run.FailedJobCount = cmd.failedN
					run.UpdatedAt = time.Now()
				}
				cmd.reply <- nil
			case "stop":
				if run, ok := runs[cmd.id]; ok {
					run.Status = RunStopped
					run.UpdatedAt = time.Now()
				}
				cmd.reply <- nil
			case "status":
				run, ok := runs[cmd.id]
				if !ok {
					cmd.reply <- nil
					continue
				}
				snapshot := *run
				cmd.reply <- &snapshot
			case "clear":
				runs = make(map[string]*RunSnapshot)
				cmd.reply <- nil
			}
		}
	}
}

// Start registers a new pipeline run. Returns an error if pipelineID is
// already tracked and still running.
func (r *Registry) Start(ctx domain.Context, pipelineID, targetDir string) error {
	if existing, _ := r.Status(ctx, pipelineID); existing != nil && existing.Status == RunRunning {
		return fmt.Errorf("op=registry.start pipeline_id=%s: %w: already running", pipelineID, domain.ErrConflict)
	}
	reply := make(chan any, 1)
	r.send(ctx, registryCommand{kind: "start", id: pipelineID, targetDir: targetDir, reply: reply})
	return nil
}

// UpdatePhase records which pipeline stage a run is currently draining.
func (r *Registry) UpdatePhase(ctx domain.Context, pipelineID, phase string) {
	reply := make(chan any, 1)
	r.send(ctx, registryCommand{kind: "update_phase", id: pipelineID, phase: phase, reply: reply})
}

// Finish records a run's terminal status: RunCompleted on a clean drain,
// RunCompletedWithFailures when dead-lettered jobs remain at drain time
// (spec's own resolution — a run with failures is reported distinctly from
// total failure, not folded into RunFailed), or RunFailed on a fatal error.
func (r *Registry) Finish(ctx domain.Context, pipelineID string, status RunStatus, failedJobCount int, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	reply := make(chan any, 1)
	r.send(ctx, registryCommand{kind: "finish", id: pipelineID, status: status, failedN: failedJobCount, errMsg: msg, reply: reply})
}

// Stop marks a run stopped; it does not itself cancel the run's worker
// goroutines — the caller owning those (cmd/pipeline) is responsible for
// canceling the context it gave them and then calling Stop to record it.
func (r *Registry) Stop(ctx domain.Context, pipelineID string) {
	reply := make(chan any, 1)
	r.send(ctx, registryCommand{kind: "stop", id: pipelineID, reply: reply})
}

// Status returns a snapshot of one run, or nil if pipelineID is unknown.
func (r *Registry) Status(ctx domain.Context, pipelineID string) (*RunSnapshot, error) {
	reply := make(chan any, 1)
	r.send(ctx, registryCommand{kind: "status", id: pipelineID, reply: reply})
	select {
	case v := <-reply:
		if v == nil {
			return nil, nil
		}
		return v.(*RunSnapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Clear discards every tracked run.
func (r *Registry) Clear(ctx domain.Context) {
	reply := make(chan any, 1)
	r.send(ctx, registryCommand{kind: "clear", reply: reply})
}

func (r *Registry) send(ctx domain.Context, cmd registryCommand) {
	select {
	case r.cmds <- cmd:
		<-cmd.reply
	case <-ctx.Done():
	}
}
