package taskrunner

import (
	"context"
	"errors"
	"fmt"
)

// Kind selects what a task does and, through its numeric value, its priority.
// Lower values are scheduled first.
type Kind int

const (
	KindEncode  Kind = 1
	KindPrepare Kind = 2
	KindMerge   Kind = 3
)

// Kinds lists every task kind in priority order.
var Kinds = []Kind{KindEncode, KindPrepare, KindMerge}

func (k Kind) String() string {
	switch k {
	case KindEncode:
		return "ENCODE"
	case KindPrepare:
		return "PREPARE"
	case KindMerge:
		return "MERGE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Priority returns the scheduling priority of the kind.
func (k Kind) Priority() int { return int(k) }

func (k Kind) valid() bool {
	return k == KindEncode || k == KindPrepare || k == KindMerge
}

// ChunkSpec describes one chapter-aligned slice of a book's audio.
type ChunkSpec struct {
	Index           int
	Total           int
	StartSeconds    float64
	DurationSeconds float64
}

// Handler is implemented by the pipeline that owns a task.
type Handler interface {
	Prepare(ctx context.Context) error
	Encode(ctx context.Context, chunk ChunkSpec) error
	Merge(ctx context.Context) error
}

// Discarder is implemented by handlers that must learn about tasks dropped
// from the queue by Stop. Discard is called once per dropped task, never
// concurrently with a handler method for that same task.
type Discarder interface {
	Discard(task Task)
}

// Task is one unit of pipeline work. Chunk is only meaningful for KindEncode.
type Task struct {
	Kind  Kind
	JobID int64
	ASIN  string
	Chunk ChunkSpec
	Owner Handler
}

var (
	// ErrNotRunning is returned by Submit when the runner is stopped.
	ErrNotRunning = errors.New("task runner not running")
	// ErrInvalidTask is returned by Submit for tasks without an owner or with
	// an unknown kind.
	ErrInvalidTask = errors.New("invalid task")
)

func (t Task) validate() error {
	if t.Owner == nil {
		return fmt.Errorf("%w: %s task for %s has no owner", ErrInvalidTask, t.Kind, t.ASIN)
	}
	if !t.Kind.valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidTask, int(t.Kind))
	}
	return nil
}
