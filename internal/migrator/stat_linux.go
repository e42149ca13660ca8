package migrator

import (
	"os"
	"syscall"
)

type devIno struct {
	dev uint64
	ino uint64
}

func statT(info os.FileInfo) (devIno, bool) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return devIno{}, false
	}
	return devIno{dev: uint64(sys.Dev), ino: sys.Ino}, true
}
