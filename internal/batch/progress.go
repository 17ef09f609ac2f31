package batch

import (
	"sync"
	"time"

	"github.com/acesanderson/conduit/internal/request"
)

// TaskState is one of the four outcomes a batch task reports per §4.10.
type TaskState string

const (
	TaskStarted  TaskState = "started"
	TaskComplete TaskState = "completed"
	TaskCacheHit TaskState = "cache_hit"
	TaskFailed   TaskState = "failed"
)

// Progress is the tracker's contract: (total, running, completed, failed,
// elapsed_ms), sampled on every state transition.
type Progress struct {
	Total     int
	Running   int
	Completed int
	Failed    int
	ElapsedMs int64
}

// ProgressFunc receives a Progress snapshot. It is invoked synchronously
// from whichever goroutine caused the transition, so it must not block.
type ProgressFunc func(Progress)

// tracker accumulates task-state transitions and emits a Progress snapshot
// through onUpdate after each one, gated by verbosity (at or below Silent,
// no rendering occurs — onUpdate is simply never called).
type tracker struct {
	mu        sync.Mutex
	total     int
	running   int
	completed int
	failed    int
	startedAt time.Time
	verbosity request.Verbosity
	onUpdate  ProgressFunc
}

func newTracker(total int, verbosity request.Verbosity, onUpdate ProgressFunc) *tracker {
	return &tracker{
		total:     total,
		startedAt: time.Now(),
		verbosity: verbosity,
		onUpdate:  onUpdate,
	}
}

func (t *tracker) taskStarted() {
	t.mu.Lock()
	t.running++
	t.mu.Unlock()
	t.emit()
}

func (t *tracker) taskFinished(state TaskState) {
	t.mu.Lock()
	t.running--
	switch state {
	case TaskFailed:
		t.failed++
	default:
		t.completed++
	}
	t.mu.Unlock()
	t.emit()
}

func (t *tracker) emit() {
	if t.onUpdate == nil || t.verbosity <= request.Silent {
		return
	}
	t.mu.Lock()
	snap := Progress{
		Total:     t.total,
		Running:   t.running,
		Completed: t.completed,
		Failed:    t.failed,
		ElapsedMs: time.Since(t.startedAt).Milliseconds(),
	}
	t.mu.Unlock()
	t.onUpdate(snap)
}
