package xattrfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

func openTempFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "x")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestTryLockThenAlreadyLocked(t *testing.T) {
	f := openTempFile(t)

	res, err := TryLock(f.Fd())
	require.NoError(t, err)
	assert.Equal(t, Acquired, res)

	res, err = TryLock(f.Fd())
	require.NoError(t, err)
	assert.Equal(t, AlreadyLocked, res)
}

func TestUnlockIsIdempotent(t *testing.T) {
	f := openTempFile(t)

	require.NoError(t, Unlock(f.Fd()))

	res, err := TryLock(f.Fd())
	require.NoError(t, err)
	assert.Equal(t, Acquired, res)

	require.NoError(t, Unlock(f.Fd()))
	require.NoError(t, Unlock(f.Fd()))
}

func TestIsLocalDefaultsTrueWithoutStub(t *testing.T) {
	f := openTempFile(t)

	local, err := IsLocal(f.Fd())
	require.NoError(t, err)
	assert.True(t, local)

	require.NoError(t, SetXAttr(f.Fd(), AttrStub, nil, SetCreateOnly))

	local, err = IsLocal(f.Fd())
	require.NoError(t, err)
	assert.False(t, local)
}

func TestIsRegular(t *testing.T) {
	f := openTempFile(t)
	regular, err := IsRegular(f.Fd())
	require.NoError(t, err)
	assert.True(t, regular)
}

func TestGetXAttrReportsAbsence(t *testing.T) {
	f := openTempFile(t)
	_, ok, err := GetXAttr(f.Fd(), AttrObjectID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStatXAttrRoundTrip(t *testing.T) {
	f := openTempFile(t)
	want := StatXAttr{Size: 4096, Blocks: 8}
	require.NoError(t, SetXAttr(f.Fd(), AttrStat, want.Pack(), SetCreateOnly))

	raw, ok, err := GetXAttr(f.Fd(), AttrStat)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := UnpackStatXAttr(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSetXAttrCreateOnlyFailsWhenPresent(t *testing.T) {
	f := openTempFile(t)
	require.NoError(t, SetXAttr(f.Fd(), AttrObjectID, []byte("id-1"), SetCreateOnly))

	err := SetXAttr(f.Fd(), AttrObjectID, []byte("id-2"), SetCreateOnly)
	require.Error(t, err)
	assert.True(t, cterrors.Is(err, cterrors.KindFileOpFailed))
}

func TestPunchHolePreservesSize(t *testing.T) {
	f := openTempFile(t)
	data := make([]byte, 4096)
	_, err := f.Write(data)
	require.NoError(t, err)

	require.NoError(t, PunchHole(f.Fd(), 4096))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
}
