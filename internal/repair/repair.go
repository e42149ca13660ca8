// Package repair resolves the intermediate states a crash can leave
// behind: a stale locked xattr from a worker that died mid-migration, or
// a file with stub+object_id set but its data still present locally
// because the crash landed between set_xattr(stub) and ftruncate(0).
package repair

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ser94mor/cloudtiering/internal/xattrfs"
)

// Config controls how aggressively Repair treats a locked xattr as
// stale. There is no timestamp on the xattr itself, so staleness is
// judged by the file's mtime: a lock held across more than StaleAfter
// with no further writes is assumed abandoned.
type Config struct {
	StaleAfter time.Duration
}

// Repairer scans individual files for crash-recovery repair; unlike
// Scanner it is invoked explicitly (e.g. at startup, or by an operator
// tool) rather than running continuously.
type Repairer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &Repairer{cfg: cfg, logger: logger.With("component", "repair")}
}

// RepairFile inspects one path and resolves any recognizable
// intermediate migration state. It is idempotent and safe to call on a
// file in a fully consistent state (it does nothing).
func (r *Repairer) RepairFile(ctx context.Context, path string) error {
	f, err := xattrfs.OpenReadWrite(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fd := f.Fd()

	if err := r.clearStaleLock(f, fd); err != nil {
		return err
	}

	_, hasStub, err := xattrfs.GetXAttr(fd, xattrfs.AttrStub)
	if err != nil {
		return err
	}
	_, hasObjectID, err := xattrfs.GetXAttr(fd, xattrfs.AttrObjectID)
	if err != nil {
		return err
	}

	switch {
	case hasStub && !hasObjectID:
		// The migrator never leaves this state: it sets object_id
		// before stub and removes it after stub, so the stub was set
		// by a process other than this migrator. Treat
		// conservatively: remove the stub so the file is LOCAL.
		r.logger.Warn("removing stub with no object_id", "path", path)
		return xattrfs.RemoveXAttr(fd, xattrfs.AttrStub, true)

	case hasStub && hasObjectID:
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if info.Size() > 0 {
			// Covers a crash after set_xattr(stub) but before
			// ftruncate(0), where data is still present locally and
			// already uploaded: re-run the truncation rather than
			// re-uploading. A completed demotion keeps its logical
			// size too and also takes this branch; punching the hole
			// again leaves it unchanged.
			r.logger.Info("resuming truncation after crash", "path", path, "size", info.Size())
			return xattrfs.PunchHole(fd, info.Size())
		}
	}

	return nil
}

// Walk repairs every regular file under root, skipping symlinks and
// directories the way the scanner does. A per-file repair failure is
// logged and does not abort the rest of the walk.
func (r *Repairer) Walk(ctx context.Context, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			r.logger.Debug("walk error, skipping", "path", path, "error", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := r.RepairFile(ctx, path); err != nil {
			r.logger.Warn("repair failed, skipping", "path", path, "error", err)
		}
		return nil
	})
}

func (r *Repairer) clearStaleLock(f *os.File, fd uintptr) error {
	_, locked, err := xattrfs.GetXAttr(fd, xattrfs.AttrLocked)
	if err != nil || !locked {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if time.Since(info.ModTime()) < r.cfg.StaleAfter {
		return nil
	}

	r.logger.Warn("clearing stale lock", "path", f.Name())
	return xattrfs.Unlock(fd)
}
