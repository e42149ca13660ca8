// Package worker consumes a prioritized pair of queues and drives the
// migrator for each dequeued path, batching failure reporting so a
// noisy run of errors doesn't flood the log.
package worker

import (
	"context"
	"log/slog"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
	"github.com/ser94mor/cloudtiering/internal/metrics"
	"github.com/ser94mor/cloudtiering/internal/migrator"
	"github.com/ser94mor/cloudtiering/internal/queueio"
)

// Direction selects which Migrator operation a Worker applies to each
// dequeued path.
type Direction int

const (
	Demotion Direction = iota
	Promotion
)

func (d Direction) String() string {
	if d == Promotion {
		return "promotion"
	}
	return "demotion"
}

// failureSummaryEvery controls how often a batched failure summary is
// emitted, rather than logging every single failure.
const failureSummaryEvery = 1024

const maxPathLen = 4096

// Worker drains (primary, secondary) queues with strict priority,
// running primary to exhaustion of its non-blocking pops before ever
// blocking on secondary.
type Worker struct {
	name      string
	direction Direction
	primary   *queueio.Queue
	secondary *queueio.Queue
	migrator  *migrator.Migrator
	collector *metrics.Collector
	logger    *slog.Logger

	failureCount int
}

func New(name string, direction Direction, primary, secondary *queueio.Queue, m *migrator.Migrator, collector *metrics.Collector, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		name:      name,
		direction: direction,
		primary:   primary,
		secondary: secondary,
		migrator:  m,
		collector: collector,
		logger:    logger.With("component", "worker", "name", name, "direction", direction.String()),
	}
}

// Run dequeues and migrates until ctx is cancelled. Cancellation is
// checked at each dequeue boundary and immediately after each migration
// attempt, so a cancelled worker never holds a file descriptor or a
// locked xattr across the shutdown.
func (w *Worker) Run(ctx context.Context) error {
	buf := make([]byte, maxPathLen)
	for {
		if ctx.Err() != nil {
			return nil
		}

		path, err := w.dequeue(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("dequeue failed", "error", err)
			continue
		}

		if ctx.Err() != nil {
			return nil
		}

		w.migrate(ctx, path)
	}
}

func (w *Worker) dequeue(ctx context.Context, buf []byte) (string, error) {
	n, err := w.primary.TryPop(buf)
	if err == nil {
		return string(buf[:n]), nil
	}
	if !cterrors.Is(err, cterrors.KindWouldBlock) {
		return "", err
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := w.secondary.Pop(buf)
		done <- result{n, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		return string(buf[:r.n]), nil
	}
}

func (w *Worker) migrate(ctx context.Context, path string) {
	var outcome migrator.Outcome
	var err error

	switch w.direction {
	case Demotion:
		outcome, err = w.migrator.Demote(ctx, path)
	case Promotion:
		outcome, err = w.migrator.Promote(ctx, path)
	}

	if err != nil {
		w.recordFailure(path, err)
		return
	}

	switch outcome {
	case migrator.Contended, migrator.NoOp:
		w.logger.Debug("migration skipped", "path", path, "outcome", outcome.String())
	case migrator.Done:
		w.logger.Info("migration completed", "path", path)
	}
}

func (w *Worker) recordFailure(path string, err error) {
	w.failureCount++
	if w.collector != nil {
		w.collector.RecordWorkerFailure(w.name, failureKind(err))
	}
	w.logger.Debug("migration failed", "path", path, "error", err)

	if w.failureCount%failureSummaryEvery == 0 {
		w.logger.Warn("worker failure summary", "count", w.failureCount)
	}
}

func failureKind(err error) string {
	var ce *cterrors.Error
	if as, ok := err.(*cterrors.Error); ok {
		ce = as
		return string(ce.Kind)
	}
	return "unknown"
}
