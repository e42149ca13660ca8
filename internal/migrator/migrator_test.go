package migrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ser94mor/cloudtiering/internal/objectstore/memstore"
	"github.com/ser94mor/cloudtiering/internal/xattrfs"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestDemoteThenPromoteRoundTrip(t *testing.T) {
	content := make([]byte, 4096)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := writeTempFile(t, content)

	store := memstore.New()
	m := New(store, nil)
	ctx := context.Background()

	outcome, err := m.Demote(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())

	f, err := os.Open(path)
	require.NoError(t, err)
	_, ok, err := xattrfs.GetXAttr(f.Fd(), xattrfs.AttrStub)
	require.NoError(t, err)
	assert.True(t, ok)
	f.Close()

	outcome, err = m.Promote(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, Done, outcome)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	f, err = os.Open(path)
	require.NoError(t, err)
	_, ok, err = xattrfs.GetXAttr(f.Fd(), xattrfs.AttrStub)
	require.NoError(t, err)
	assert.False(t, ok)
	f.Close()
}

func TestPromoteOnLocalIsNoOp(t *testing.T) {
	path := writeTempFile(t, []byte("local content"))
	m := New(memstore.New(), nil)

	outcome, err := m.Promote(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, NoOp, outcome)
}

func TestDemoteOnRemoteIsNoOp(t *testing.T) {
	path := writeTempFile(t, []byte{})
	store := memstore.New()
	m := New(store, nil)
	ctx := context.Background()

	_, err := m.Demote(ctx, path)
	require.NoError(t, err)

	outcome, err := m.Demote(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, NoOp, outcome)
}

func TestSecondDemoteWhileLockedReportsContended(t *testing.T) {
	path := writeTempFile(t, []byte("data"))
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	res, err := xattrfs.TryLock(f.Fd())
	require.NoError(t, err)
	require.Equal(t, xattrfs.Acquired, res)

	m := New(memstore.New(), nil)
	outcome, err := m.Demote(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, Contended, outcome)
}

func TestDemoteUploadFailureLeavesFileUnlockedAndLocal(t *testing.T) {
	path := writeTempFile(t, []byte("data"))
	store := memstore.New()
	store.FailUpload = assert.AnError
	m := New(store, nil)

	_, err := m.Demote(context.Background(), path)
	assert.Error(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, locked, err := xattrfs.GetXAttr(f.Fd(), xattrfs.AttrLocked)
	require.NoError(t, err)
	assert.False(t, locked)

	local, err := xattrfs.IsLocal(f.Fd())
	require.NoError(t, err)
	assert.True(t, local)
}
