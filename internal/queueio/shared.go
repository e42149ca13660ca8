package queueio

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// headerSize is the width of the packed head/tail/count header stored at
// the front of a shared segment, ahead of the circular record buffer.
// Each field is a little-endian uint32.
const headerSize = 12

// sharedSegment is a POSIX named shared-memory object under /dev/shm,
// attached-or-created rather than exclusively created, so a second
// process naming the same segment joins an existing queue instead of
// failing. The mapped region holds the head/tail/count header followed
// by the record buffer; both are visible to every process that maps the
// segment. A companion lock file provides cross-process mutual
// exclusion via flock(2), since Go has no cgo-free way to put a
// PTHREAD_PROCESS_SHARED mutex inside the segment itself.
type sharedSegment struct {
	name     string
	path     string
	lockPath string
	file     *os.File
	lockFile *os.File
	data     []byte // full mapping: header + buf
	buf      []byte // data[headerSize:], the record buffer
}

func shmPath(name string) string {
	return "/dev/shm/" + name
}

// openOrCreateSharedSegment attaches to the named segment if it already
// exists, or creates and sizes it otherwise. Attaching to a segment sized
// for a different (capacity, recordMax) pair is rejected, since the two
// processes would otherwise disagree about slot boundaries.
func openOrCreateSharedSegment(name string, bufSize int) (*sharedSegment, error) {
	path := shmPath(name)
	totalSize := headerSize + bufSize

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	created := true
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create shared segment %s: %w", path, err)
		}
		created = false
		f, err = os.OpenFile(path, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("open shared segment %s: %w", path, err)
		}
	}

	if created {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			os.Remove(path)
			return nil, fmt.Errorf("size shared segment %s: %w", path, err)
		}
	} else {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("stat shared segment %s: %w", path, err)
		}
		if info.Size() != int64(totalSize) {
			f.Close()
			return nil, fmt.Errorf("shared segment %s is %d bytes, want %d: capacity/record_max must match across every process attaching to it",
				path, info.Size(), totalSize)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, totalSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		if created {
			os.Remove(path)
		}
		return nil, fmt.Errorf("mmap shared segment %s: %w", path, err)
	}

	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		if created {
			os.Remove(path)
		}
		return nil, fmt.Errorf("open shared segment lock %s: %w", lockPath, err)
	}

	return &sharedSegment{
		name:     name,
		path:     path,
		lockPath: lockPath,
		file:     f,
		lockFile: lockFile,
		data:     data,
		buf:      data[headerSize:],
	}, nil
}

// lock acquires the cross-process lock via flock(2) on the companion
// lock file. flock is scoped to the open-file-description, not the
// process, so it serializes this segment's attaching processes against
// each other but not goroutines within one process sharing this fd —
// that intra-process exclusion is the caller's sync.Mutex's job.
func (s *sharedSegment) lock() error {
	return unix.Flock(int(s.lockFile.Fd()), unix.LOCK_EX)
}

func (s *sharedSegment) unlock() error {
	return unix.Flock(int(s.lockFile.Fd()), unix.LOCK_UN)
}

// loadHeader reads the head/tail/count triple last published by whichever
// process wrote it most recently. Caller must hold the segment lock.
func (s *sharedSegment) loadHeader() (head, tail, count int) {
	return int(binary.LittleEndian.Uint32(s.data[0:4])),
		int(binary.LittleEndian.Uint32(s.data[4:8])),
		int(binary.LittleEndian.Uint32(s.data[8:12]))
}

// storeHeader publishes head/tail/count for other processes to observe.
// Caller must hold the segment lock.
func (s *sharedSegment) storeHeader(head, tail, count int) {
	binary.LittleEndian.PutUint32(s.data[0:4], uint32(head))
	binary.LittleEndian.PutUint32(s.data[4:8], uint32(tail))
	binary.LittleEndian.PutUint32(s.data[8:12], uint32(count))
}

func (s *sharedSegment) close(unlink bool) error {
	var firstErr error
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			firstErr = err
		}
		s.data = nil
	}
	if s.lockFile != nil {
		if err := s.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.lockFile = nil
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.file = nil
	}
	if unlink {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
