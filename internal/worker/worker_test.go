package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ser94mor/cloudtiering/internal/migrator"
	"github.com/ser94mor/cloudtiering/internal/objectstore/memstore"
	"github.com/ser94mor/cloudtiering/internal/queueio"
	"github.com/ser94mor/cloudtiering/internal/xattrfs"
)

func newQueues(t *testing.T) (primary, secondary *queueio.Queue) {
	t.Helper()
	p, err := queueio.New(queueio.Config{Capacity: 4, RecordMax: 4096})
	require.NoError(t, err)
	s, err := queueio.New(queueio.Config{Capacity: 4, RecordMax: 4096})
	require.NoError(t, err)
	t.Cleanup(func() { p.Destroy(); s.Destroy() })
	return p, s
}

func TestWorkerDemotesPathFromPrimaryQueue(t *testing.T) {
	dir := t.TempDir()
	coldPath := filepath.Join(dir, "cold.txt")
	require.NoError(t, os.WriteFile(coldPath, []byte("data"), 0644))

	primary, secondary := newQueues(t)
	require.NoError(t, primary.Push([]byte(coldPath)))

	m := migrator.New(memstore.New(), nil)
	w := New("demote-test", Demotion, primary, secondary, m, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = w.Run(ctx)

	f, err := os.Open(coldPath)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.Size())

	local, err := xattrfs.IsLocal(f.Fd())
	require.NoError(t, err)
	assert.False(t, local)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	primary, secondary := newQueues(t)
	m := migrator.New(memstore.New(), nil)
	w := New("idle-test", Promotion, primary, secondary, m, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	assert.NoError(t, err)
}
