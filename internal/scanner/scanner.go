// Package scanner walks the configured mount point and feeds demotion
// candidates into the demotion queue. It stays within a single mount,
// never follows symlinks, and treats per-file errors as skip-and-continue
// rather than scan-aborting.
package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	cterrors "github.com/ser94mor/cloudtiering/internal/errors"
	"github.com/ser94mor/cloudtiering/internal/queueio"
	"github.com/ser94mor/cloudtiering/internal/xattrfs"
)

// Config parameterizes a Scanner.
type Config struct {
	MountPoint      string
	ScanInterval    time.Duration
	EvictionAge     time.Duration
	MaxScanFailures int64

	// StartRate and StopRate are the local-tier occupancy watermarks
	// that gate demotion: a scan only enqueues candidates once
	// occupancy has reached StartRate, and stops enqueuing once it has
	// fallen back to StopRate. Leaving StartRate at its zero value
	// disables the watermark entirely (every scan is active), which is
	// also what a zero-value Config gets in tests that don't care about
	// occupancy gating.
	StartRate float64
	StopRate  float64
}

// Scanner periodically walks Config.MountPoint and pushes candidate
// paths onto a demotion queue.
type Scanner struct {
	cfg    Config
	queue  *queueio.Queue
	logger *slog.Logger

	mountDev     uint64
	scanFailures atomic.Int64
	active       atomic.Bool

	// occupancyFunc is overridden in tests; production code always
	// leaves it nil and falls back to statfs(2) via s.occupancy.
	occupancyFunc func() (float64, error)
}

func New(cfg Config, queue *queueio.Queue, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := os.Stat(cfg.MountPoint)
	if err != nil {
		return nil, cterrors.New(cterrors.KindConfigInvalid, "scanner", "stat mount point").WithCause(err)
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, cterrors.New(cterrors.KindConfigInvalid, "scanner", "unsupported platform stat")
	}

	return &Scanner{
		cfg:      cfg,
		queue:    queue,
		logger:   logger.With("component", "scanner"),
		mountDev: uint64(sys.Dev),
	}, nil
}

// Run loops: scan, sleep for the remainder of ScanInterval, repeat,
// until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	for {
		start := time.Now()
		if err := s.scanOnce(ctx); err != nil {
			s.scanFailures.Add(1)
			s.logger.Error("scan failed", "error", err)
			if s.cfg.MaxScanFailures > 0 && s.scanFailures.Load() >= s.cfg.MaxScanFailures {
				return cterrors.New(cterrors.KindResourceExhausted, "scanner", "too many whole-scan failures").WithCause(err)
			}
		}

		elapsed := time.Since(start)
		sleep := s.cfg.ScanInterval - elapsed
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) error {
	if !s.demotionActive() {
		s.logger.Debug("occupancy below start watermark, skipping scan")
		return nil
	}
	return filepath.WalkDir(s.cfg.MountPoint, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Debug("walk error, skipping", "path", path, "error", err)
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			if path != s.cfg.MountPoint && s.crossesMount(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if s.isCandidate(path) {
			if err := s.queue.TryPush([]byte(path)); err != nil {
				if cterrors.Is(err, cterrors.KindWouldBlock) {
					s.logger.Debug("demotion queue full, skipping for this scan", "path", path)
					return nil
				}
				s.logger.Debug("push failed, skipping", "path", path, "error", err)
			}
		}
		return nil
	})
}

// demotionActive applies the start/stop occupancy hysteresis: once
// occupancy reaches StartRate, scanning stays active until occupancy
// falls back to StopRate, even if it dips between the two watermarks
// in between. A StartRate of zero means no watermark was configured,
// so demotion is always active.
func (s *Scanner) demotionActive() bool {
	if s.cfg.StartRate <= 0 {
		return true
	}

	occupancyFunc := s.occupancyFunc
	if occupancyFunc == nil {
		occupancyFunc = s.occupancy
	}
	occupancy, err := occupancyFunc()
	if err != nil {
		s.logger.Debug("occupancy check failed, assuming active", "error", err)
		return true
	}

	switch {
	case occupancy >= s.cfg.StartRate:
		s.active.Store(true)
	case occupancy <= s.cfg.StopRate:
		s.active.Store(false)
	}
	return s.active.Load()
}

// occupancy returns the fraction of the mount point's filesystem blocks
// currently in use, in [0,1].
func (s *Scanner) occupancy() (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.cfg.MountPoint, &st); err != nil {
		return 0, cterrors.New(cterrors.KindFileOpFailed, "scanner", "statfs mount point").
			WithSyscall("statfs", err)
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	return 1 - float64(st.Bfree)/float64(st.Blocks), nil
}

func (s *Scanner) crossesMount(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return uint64(sys.Dev) != s.mountDev
}

func (s *Scanner) isCandidate(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		s.logger.Debug("open failed, skipping", "path", path, "error", err)
		return false
	}
	defer f.Close()

	regular, err := xattrfs.IsRegular(f.Fd())
	if err != nil || !regular {
		return false
	}

	local, err := xattrfs.IsLocal(f.Fd())
	if err != nil || !local {
		return false
	}

	_, locked, err := xattrfs.GetXAttr(f.Fd(), xattrfs.AttrLocked)
	if err != nil || locked {
		return false
	}

	info, err := f.Stat()
	if err != nil {
		return false
	}
	atime, ok := accessTime(info)
	if !ok {
		return false
	}
	return time.Since(atime) >= s.cfg.EvictionAge
}
