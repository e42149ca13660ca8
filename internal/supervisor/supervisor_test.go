package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunReturnsWhenAllTasksFinishCleanly(t *testing.T) {
	s := New(Config{JoinTimeout: time.Second}, nil,
		Task{Name: "a", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
}

func TestRunPropagatesTaskError(t *testing.T) {
	wantErr := errors.New("boom")
	s := New(Config{JoinTimeout: time.Second}, nil,
		Task{Name: "failing", Run: func(ctx context.Context) error {
			return wantErr
		}},
		Task{Name: "waiting", Run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}},
	)

	err := s.Run(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestRunReportsWedgedTask(t *testing.T) {
	s := New(Config{JoinTimeout:20 * time.Millisecond}, nil,
		Task{Name: "wedged", Run: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Second)
			return nil
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.Error(t, err)
}
