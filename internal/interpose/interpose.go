// Package interpose is the boundary the out-of-process libc-interposition
// layer uses to report that a stub file was opened and should be
// promoted. The interposition layer itself (intercepting open(2) and
// friends) lives outside this module; this package only defines the
// producer contract against the shared promotion queue.
package interpose

import (
	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
	"github.com/ser94mor/cloudtiering/internal/queueio"
)

// Trigger is satisfied by anything that can enqueue a promotion request
// for path. Implementations must not block the caller indefinitely; a
// full queue is reported back so the interposition layer can decide
// whether to retry, drop, or synchronously fall back to an inline
// promotion.
type Trigger interface {
	Trigger(path string) error
}

// QueueTrigger enqueues promotion requests onto a named or private
// promotion queue. When the queue is backed by shared memory, this is
// the producer side usable from a separate process.
type QueueTrigger struct {
	queue *queueio.Queue
}

// NewQueueTrigger wires a Trigger to one priority tier of the promotion
// queue pair; callers needing both tiers construct two QueueTriggers.
func NewQueueTrigger(queue *queueio.Queue) *QueueTrigger {
	return &QueueTrigger{queue: queue}
}

// Trigger enqueues path without blocking. Callers on the promotion
// critical path (an open(2) interceptor) cannot afford to stall on a
// full queue.
func (t *QueueTrigger) Trigger(path string) error {
	if path == "" {
		return cterrors.New(cterrors.KindInvalid, "interpose", "empty path")
	}
	return t.queue.TryPush([]byte(path))
}
