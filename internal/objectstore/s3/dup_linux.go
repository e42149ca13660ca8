package s3

import "golang.org/x/sys/unix"

// dupFd duplicates a raw fd via dup(2) so the resulting *os.File can be
// closed independently of the caller's descriptor.
func dupFd(fd uintptr) (uintptr, error) {
	newFd, err := unix.Dup(int(fd))
	if err != nil {
		return 0, err
	}
	return uintptr(newFd), nil
}
