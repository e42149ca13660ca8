// Package xattrfs implements file-descriptor-based manipulation of the
// tiering extended attributes and the classification helpers built on
// top of them. All tiering state lives under the user.cloudtiering.*
// namespace so it survives independently of any in-memory bookkeeping.
package xattrfs

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
)

const namespace = "user.cloudtiering."

// Attribute names, the complete stable xattr surface.
const (
	AttrStub     = "stub"
	AttrLocked   = "locked"
	AttrObjectID = "object_id"
	AttrStat     = "stat"
)

// SetFlag selects create-only / replace-only / either semantics for SetXAttr.
type SetFlag int

const (
	SetEither SetFlag = iota
	SetCreateOnly
	SetReplaceOnly
)

func fullName(name string) string { return namespace + name }

// SetXAttr writes a tiering attribute on fd. CreateOnly fails with a
// KindFileOpFailed error whose Errno is unix.EEXIST when the attribute is
// already present, which is the primitive used for the migration lock.
func SetXAttr(fd uintptr, name string, value []byte, flag SetFlag) error {
	var sysFlag int
	switch flag {
	case SetCreateOnly:
		sysFlag = unix.XATTR_CREATE
	case SetReplaceOnly:
		sysFlag = unix.XATTR_REPLACE
	}

	if err := unix.Fsetxattr(int(fd), fullName(name), value, sysFlag); err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "fsetxattr "+name).
			WithSyscall("fsetxattr", err)
	}
	return nil
}

// GetXAttr reads a tiering attribute from fd. It returns ok=false, not an
// error, when the attribute is absent — that distinction is load-bearing
// for callers that branch on presence.
func GetXAttr(fd uintptr, name string) (value []byte, ok bool, err error) {
	size, err := unix.Fgetxattr(int(fd), fullName(name), nil)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOATTR {
			return nil, false, nil
		}
		return nil, false, cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "fgetxattr "+name).
			WithSyscall("fgetxattr", err)
	}
	if size == 0 {
		return []byte{}, true, nil
	}

	buf := make([]byte, size)
	n, err := unix.Fgetxattr(int(fd), fullName(name), buf)
	if err != nil {
		return nil, false, cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "fgetxattr "+name).
			WithSyscall("fgetxattr", err)
	}
	return buf[:n], true, nil
}

// RemoveXAttr removes a tiering attribute. When ignoreAbsent is true, a
// missing attribute is not an error, making repeated removal idempotent.
func RemoveXAttr(fd uintptr, name string, ignoreAbsent bool) error {
	if err := unix.Fremovexattr(int(fd), fullName(name)); err != nil {
		if ignoreAbsent && (err == unix.ENODATA || err == unix.ENOATTR) {
			return nil
		}
		return cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "fremovexattr "+name).
			WithSyscall("fremovexattr", err)
	}
	return nil
}

// LockResult is the outcome of a TryLock attempt.
type LockResult int

const (
	Acquired LockResult = iota
	AlreadyLocked
)

// TryLock is the single source of migration exclusion: it is atomic with
// respect to the filesystem because it rides on XATTR_CREATE semantics.
func TryLock(fd uintptr) (LockResult, error) {
	err := SetXAttr(fd, AttrLocked, nil, SetCreateOnly)
	if err == nil {
		return Acquired, nil
	}

	if cterr, ok := err.(*cterrors.Error); ok && cterr.Errno == unix.EEXIST {
		return AlreadyLocked, nil
	}
	return 0, err
}

// Unlock releases the migration lock. Idempotent: unlocking an already
// unlocked file is not an error.
func Unlock(fd uintptr) error {
	return RemoveXAttr(fd, AttrLocked, true)
}

// IsLocal reports whether fd's file has no stub xattr, i.e. its content
// lives on the local filesystem.
func IsLocal(fd uintptr) (bool, error) {
	_, ok, err := GetXAttr(fd, AttrStub)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// IsRegular reports whether fd refers to a regular file.
func IsRegular(fd uintptr) (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return false, cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "fstat").WithSyscall("fstat", err)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFREG, nil
}

// StatXAttr is the packed {size, blocks} payload saved before truncation.
type StatXAttr struct {
	Size   int64
	Blocks int64
}

// Pack serializes the stat xattr, little-endian, 16 bytes total.
func (s StatXAttr) Pack() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(s.Size))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(s.Blocks))
	return buf
}

// UnpackStatXAttr parses the stat xattr payload.
func UnpackStatXAttr(buf []byte) (StatXAttr, error) {
	if len(buf) != 16 {
		return StatXAttr{}, cterrors.New(cterrors.KindInvalid, "xattrfs", fmt.Sprintf("stat xattr must be 16 bytes, got %d", len(buf)))
	}
	return StatXAttr{
		Size:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Blocks: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}, nil
}

// FstatRaw reads the file's current size and block count via fstat,
// for populating the stat xattr before truncation.
func FstatRaw(fd uintptr) (StatXAttr, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd), &st); err != nil {
		return StatXAttr{}, cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "fstat").WithSyscall("fstat", err)
	}
	return StatXAttr{Size: st.Size, Blocks: st.Blocks}, nil
}

// PunchHole truncates the file to zero bytes then restores its logical
// length with a hole, so it stat()s at the original size while
// consuming no data blocks. fallocate(PUNCH_HOLE) is tried first since
// it achieves this in a single call on filesystems that support it;
// ftruncate(0) followed by ftruncate(size) is the portable fallback.
func PunchHole(fd uintptr, size int64) error {
	if size > 0 {
		err := unix.Fallocate(int(fd), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, 0, size)
		if err == nil {
			return nil
		}
	}

	if err := unix.Ftruncate(int(fd), 0); err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "ftruncate(0)").WithSyscall("ftruncate", err)
	}
	if err := unix.Ftruncate(int(fd), size); err != nil {
		return cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "ftruncate(size)").WithSyscall("ftruncate", err)
	}
	return nil
}

// OpenReadWrite opens path for the duration of a single migration.
func OpenReadWrite(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, cterrors.New(cterrors.KindFileOpFailed, "xattrfs", "open").WithCause(err)
	}
	return f, nil
}
