// Package queueio implements the bounded FIFO queue of fixed-maximum-size
// byte records that the scanner and workers use to hand off migration
// requests. A queue can live in process-private memory, synchronized
// with a mutex and condition variables, or in a POSIX named
// shared-memory segment under /dev/shm guarded by flock(2), so an
// out-of-process interposition layer can attach to the same segment by
// name and push promotion requests.
package queueio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

const sizePrefixLen = 4

// sharedPollInterval is how often a shared-mode Push/Pop rechecks the
// segment header while waiting for a peer process to make room or
// publish a record. There is no process-shared condition variable
// available without cgo, so waiting is poll-based rather than wake-on-signal.
const sharedPollInterval = 5 * time.Millisecond

// Config parameterizes a new Queue.
type Config struct {
	Capacity  int    // max number of records
	RecordMax int    // max bytes per record
	SharedName string // if non-empty, name of the /dev/shm segment backing this queue
}

// Queue is a bounded FIFO of opaque byte records backed by a circular
// buffer. The C original split locking across independent head, tail,
// and size mutexes to let a single producer and consumer proceed without
// contending on each other's lock; Go's sync.Cond already releases its
// mutex across Wait, so one mutex plus two condition variables (not-full,
// not-empty) gives the same externally observable FIFO and blocking
// behavior without hand-rolled hand-off locking for a process-private
// queue. A shared queue additionally coordinates with flock(2) and
// polling, since sync.Cond does not reach across processes; see
// pushShared/popShared.
type Queue struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	capacity  int
	recordMax int
	slotSize  int // sizePrefixLen + recordMax

	buf   []byte
	head  int // index of the oldest record
	tail  int // index where the next record is written
	count int // number of records currently stored

	shared *sharedSegment // nil for private queues; head/tail/count then live in the segment header
	closed bool
}

// New allocates a Queue. If cfg.SharedName is set, the backing buffer is a
// POSIX named shared-memory segment; otherwise it is private process
// memory.
func New(cfg Config) (*Queue, error) {
	if cfg.Capacity <= 0 || cfg.RecordMax <= 0 {
		return nil, cterrors.New(cterrors.KindInvalid, "queueio", "capacity and record_max must be positive")
	}

	slotSize := sizePrefixLen + cfg.RecordMax
	q := &Queue{
		capacity:  cfg.Capacity,
		recordMax: cfg.RecordMax,
		slotSize:  slotSize,
	}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)

	if cfg.SharedName != "" {
		seg, err := openOrCreateSharedSegment(cfg.SharedName, slotSize*cfg.Capacity)
		if err != nil {
			return nil, cterrors.New(cterrors.KindResourceExhausted, "queueio", "attach shared segment").WithCause(err)
		}
		q.shared = seg
		q.buf = seg.buf
	} else {
		q.buf = make([]byte, slotSize*cfg.Capacity)
	}

	return q, nil
}

// Push blocks while the queue is full, then enqueues bytes.
func (q *Queue) Push(bytes []byte) error {
	return q.push(bytes, true)
}

// TryPush never blocks; it fails with KindWouldBlock if the queue is full.
func (q *Queue) TryPush(bytes []byte) error {
	return q.push(bytes, false)
}

func (q *Queue) push(record []byte, block bool) error {
	if len(record) == 0 || len(record) > q.recordMax {
		return cterrors.New(cterrors.KindInvalid, "queueio", fmt.Sprintf("record length %d outside (0,%d]", len(record), q.recordMax))
	}
	if q.shared != nil {
		return q.pushShared(record, block)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return cterrors.New(cterrors.KindInvalid, "queueio", "queue closed")
	}

	if q.count == q.capacity {
		if !block {
			return cterrors.New(cterrors.KindWouldBlock, "queueio", "queue full")
		}
		for q.count == q.capacity && !q.closed {
			q.notFull.Wait()
		}
		if q.closed {
			return cterrors.New(cterrors.KindInvalid, "queueio", "queue closed")
		}
	}

	slot := q.buf[q.tail*q.slotSize : (q.tail+1)*q.slotSize]
	binary.LittleEndian.PutUint32(slot[:sizePrefixLen], uint32(len(record)))
	copy(slot[sizePrefixLen:], record)

	q.tail = (q.tail + 1) % q.capacity
	wasEmpty := q.count == 0
	q.count++

	if wasEmpty {
		q.notEmpty.Broadcast()
	}
	return nil
}

// pushShared is push's cross-process counterpart: the segment's flock
// stands in for the condition variable a private queue uses, so waiting
// is a release-sleep-reacquire-recheck poll rather than a wake-on-signal.
func (q *Queue) pushShared(record []byte, block bool) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return cterrors.New(cterrors.KindInvalid, "queueio", "queue closed")
		}
		if err := q.shared.lock(); err != nil {
			q.mu.Unlock()
			return cterrors.New(cterrors.KindResourceExhausted, "queueio", "lock shared segment").WithCause(err)
		}
		q.head, q.tail, q.count = q.shared.loadHeader()

		if q.count < q.capacity {
			slot := q.buf[q.tail*q.slotSize : (q.tail+1)*q.slotSize]
			binary.LittleEndian.PutUint32(slot[:sizePrefixLen], uint32(len(record)))
			copy(slot[sizePrefixLen:], record)

			q.tail = (q.tail + 1) % q.capacity
			q.count++
			q.shared.storeHeader(q.head, q.tail, q.count)
			q.shared.unlock()
			q.mu.Unlock()
			return nil
		}

		q.shared.unlock()
		q.mu.Unlock()
		if !block {
			return cterrors.New(cterrors.KindWouldBlock, "queueio", "queue full")
		}
		time.Sleep(sharedPollInterval)
	}
}

// Pop blocks while the queue is empty, then copies the head record into
// buf and returns its length.
func (q *Queue) Pop(buf []byte) (int, error) {
	return q.pop(buf, true)
}

// TryPop never blocks; it fails with KindWouldBlock if the queue is empty.
func (q *Queue) TryPop(buf []byte) (int, error) {
	return q.pop(buf, false)
}

func (q *Queue) pop(buf []byte, block bool) (int, error) {
	if q.shared != nil {
		return q.popShared(buf, block)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		if !block {
			return 0, cterrors.New(cterrors.KindWouldBlock, "queueio", "queue empty")
		}
		for q.count == 0 && !q.closed {
			q.notEmpty.Wait()
		}
		if q.count == 0 && q.closed {
			return 0, cterrors.New(cterrors.KindInvalid, "queueio", "queue closed")
		}
	}

	slot := q.buf[q.head*q.slotSize : (q.head+1)*q.slotSize]
	n := int(binary.LittleEndian.Uint32(slot[:sizePrefixLen]))
	if n > len(buf) {
		return 0, cterrors.New(cterrors.KindInvalid, "queueio", fmt.Sprintf("buffer too small: need %d, have %d", n, len(buf)))
	}

	copy(buf, slot[sizePrefixLen:sizePrefixLen+n])
	q.head = (q.head + 1) % q.capacity
	wasFull := q.count == q.capacity
	q.count--

	if wasFull {
		q.notFull.Broadcast()
	}
	return n, nil
}

// popShared is pop's cross-process counterpart; see pushShared.
func (q *Queue) popShared(buf []byte, block bool) (int, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, cterrors.New(cterrors.KindInvalid, "queueio", "queue closed")
		}
		if err := q.shared.lock(); err != nil {
			q.mu.Unlock()
			return 0, cterrors.New(cterrors.KindResourceExhausted, "queueio", "lock shared segment").WithCause(err)
		}
		q.head, q.tail, q.count = q.shared.loadHeader()

		if q.count > 0 {
			slot := q.buf[q.head*q.slotSize : (q.head+1)*q.slotSize]
			n := int(binary.LittleEndian.Uint32(slot[:sizePrefixLen]))
			if n > len(buf) {
				q.shared.unlock()
				q.mu.Unlock()
				return 0, cterrors.New(cterrors.KindInvalid, "queueio", fmt.Sprintf("buffer too small: need %d, have %d", n, len(buf)))
			}
			copy(buf, slot[sizePrefixLen:sizePrefixLen+n])

			q.head = (q.head + 1) % q.capacity
			q.count--
			q.shared.storeHeader(q.head, q.tail, q.count)
			q.shared.unlock()
			q.mu.Unlock()
			return n, nil
		}

		q.shared.unlock()
		q.mu.Unlock()
		if !block {
			return 0, cterrors.New(cterrors.KindWouldBlock, "queueio", "queue empty")
		}
		time.Sleep(sharedPollInterval)
	}
}

// Size reports the current number of stored records. For a shared queue
// this re-reads the segment header, since a peer process may have pushed
// or popped since this process last touched the queue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shared != nil {
		if err := q.shared.lock(); err == nil {
			_, _, q.count = q.shared.loadHeader()
			q.shared.unlock()
		}
	}
	return q.count
}

// Destroy unmaps the queue's backing memory and, for a shared queue,
// unlinks the named segment. Only the process that owns the segment's
// lifetime (ordinarily the one that created it) should call this with a
// peer still attached elsewhere, since unlinking removes the name other
// processes would use to attach. The caller must guarantee no concurrent
// push/pop is in flight.
func (q *Queue) Destroy() error {
	q.mu.Lock()
	q.closed = true
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
	seg := q.shared
	q.mu.Unlock()

	if seg != nil {
		return seg.close(true)
	}
	return nil
}
