// Package migrator drives the per-file transactional demotion and
// promotion state machines. Every transition has a named rollback action
// so a crash mid-migration always leaves the file in a state a
// subsequent scan (or repair pass) can recognize and resolve.
package migrator

import (
	"context"
	"log/slog"
	"os"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
	"github.com/ser94mor/cloudtiering/internal/objectstore"
	"github.com/ser94mor/cloudtiering/internal/xattrfs"
)

// Outcome is the terminal signal of a migration attempt, separate from
// error: Contended and NoOp are ordinary control flow, not failures.
type Outcome int

const (
	Done Outcome = iota
	Contended
	NoOp
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Contended:
		return "contended"
	case NoOp:
		return "noop"
	default:
		return "unknown"
	}
}

// Migrator performs one demotion or promotion at a time against a
// configured Store, holding the file descriptor for the duration.
type Migrator struct {
	store  objectstore.Store
	logger *slog.Logger
}

func New(store objectstore.Store, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{store: store, logger: logger.With("component", "migrator")}
}

// Demote runs Opened -> ... -> Done for path, uploading its content and
// leaving a sparse stub behind.
func (m *Migrator) Demote(ctx context.Context, path string) (Outcome, error) {
	f, err := xattrfs.OpenReadWrite(path)
	if err != nil {
		return 0, err
	}
	fd := f.Fd()

	lockRes, err := xattrfs.TryLock(fd)
	if err != nil {
		f.Close()
		return 0, err
	}
	if lockRes == xattrfs.AlreadyLocked {
		f.Close()
		return Contended, nil
	}

	defer func() {
		_ = xattrfs.Unlock(fd)
		f.Close()
	}()

	local, err := xattrfs.IsLocal(fd)
	if err != nil {
		return 0, err
	}
	if !local {
		return NoOp, nil
	}

	dev, ino, err := deviceInode(f)
	if err != nil {
		return 0, err
	}
	objectID, err := m.store.ObjectIDFor(path, dev, ino)
	if err != nil {
		return 0, cterrors.New(cterrors.KindInvalid, "migrator", "derive object id").WithCause(err)
	}

	if err := m.store.Upload(ctx, f, objectID); err != nil {
		return 0, err
	}

	if err := xattrfs.SetXAttr(fd, xattrfs.AttrObjectID, []byte(objectID), xattrfs.SetCreateOnly); err != nil {
		return 0, err
	}

	if err := xattrfs.SetXAttr(fd, xattrfs.AttrStub, nil, xattrfs.SetCreateOnly); err != nil {
		_ = xattrfs.RemoveXAttr(fd, xattrfs.AttrObjectID, true)
		return 0, err
	}

	st, err := xattrfs.FstatRaw(fd)
	if err != nil {
		m.rollbackStubAndID(fd)
		return 0, err
	}
	if err := xattrfs.SetXAttr(fd, xattrfs.AttrStat, st.Pack(), xattrfs.SetCreateOnly); err != nil {
		m.rollbackStubAndID(fd)
		return 0, err
	}

	if err := xattrfs.PunchHole(fd, st.Size); err != nil {
		m.rollbackAll(fd)
		return 0, err
	}

	return Done, nil
}

func (m *Migrator) rollbackStubAndID(fd uintptr) {
	_ = xattrfs.RemoveXAttr(fd, xattrfs.AttrStub, true)
	_ = xattrfs.RemoveXAttr(fd, xattrfs.AttrObjectID, true)
}

func (m *Migrator) rollbackAll(fd uintptr) {
	_ = xattrfs.RemoveXAttr(fd, xattrfs.AttrStat, true)
	m.rollbackStubAndID(fd)
}

// Promote runs Opened -> ... -> Done for path, downloading its content
// and removing the tiering xattrs in an order that leaves a
// recognizable intermediate state on partial failure: stub absent but
// object_id present means LOCAL with stale metadata, repairable by a
// follow-up scan.
func (m *Migrator) Promote(ctx context.Context, path string) (Outcome, error) {
	f, err := xattrfs.OpenReadWrite(path)
	if err != nil {
		return 0, err
	}
	fd := f.Fd()

	lockRes, err := xattrfs.TryLock(fd)
	if err != nil {
		f.Close()
		return 0, err
	}
	if lockRes == xattrfs.AlreadyLocked {
		f.Close()
		return Contended, nil
	}

	defer func() {
		_ = xattrfs.Unlock(fd)
		f.Close()
	}()

	local, err := xattrfs.IsLocal(fd)
	if err != nil {
		return 0, err
	}
	if local {
		return NoOp, nil
	}

	idBytes, ok, err := xattrfs.GetXAttr(fd, xattrfs.AttrObjectID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, cterrors.New(cterrors.KindInvalid, "migrator", "remote file missing object_id")
	}

	if err := m.store.Download(ctx, f, string(idBytes)); err != nil {
		return 0, err
	}

	if err := xattrfs.RemoveXAttr(fd, xattrfs.AttrStub, false); err != nil {
		return 0, err
	}
	if err := xattrfs.RemoveXAttr(fd, xattrfs.AttrObjectID, false); err != nil {
		return 0, err
	}
	if err := xattrfs.RemoveXAttr(fd, xattrfs.AttrStat, false); err != nil {
		return 0, err
	}

	return Done, nil
}

func deviceInode(f *os.File) (dev, ino uint64, err error) {
	info, statErr := f.Stat()
	if statErr != nil {
		return 0, 0, cterrors.New(cterrors.KindFileOpFailed, "migrator", "stat").WithCause(statErr)
	}
	sysStat, ok := statT(info)
	if !ok {
		return 0, 0, cterrors.New(cterrors.KindFileOpFailed, "migrator", "unsupported stat_t on this platform")
	}
	return sysStat.dev, sysStat.ino, nil
}
