// Package supervisor starts, names, and monitors the scanner and worker
// goroutines, cancelling the whole pipeline if any of them exits
// unexpectedly and detecting wedged workers that fail to join within a
// bounded shutdown timeout.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

// Task is a named, cancellable unit the Supervisor runs and monitors.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config controls shutdown behavior.
type Config struct {
	// JoinTimeout bounds how long Run gives tasks to return after ctx
	// is cancelled before reporting them as wedged.
	JoinTimeout time.Duration
}

// Supervisor runs a fixed set of tasks concurrently under one
// cancellation scope: if any task returns an error, all others are
// cancelled.
type Supervisor struct {
	cfg    Config
	tasks  []Task
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger, tasks ...Task) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 30 * time.Second
	}
	return &Supervisor{cfg: cfg, tasks: tasks, logger: logger.With("component", "supervisor")}
}

// Run blocks until ctx is cancelled or a task exits with an error, then
// waits up to JoinTimeout for every task to finish. Tasks still running
// after the timeout are reported as wedged rather than force-killed.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, t := range s.tasks {
		t := t
		g.Go(func() error {
			s.logger.Info("task started", "task", t.Name)
			err := t.Run(gctx)
			if err != nil {
				s.logger.Error("task exited with error", "task", t.Name, "error", err)
			} else {
				s.logger.Info("task exited", "task", t.Name)
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(s.cfg.JoinTimeout):
		return cterrors.New(cterrors.KindResourceExhausted, "supervisor", "one or more tasks failed to join within the timeout")
	}
}
