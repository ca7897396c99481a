//go:build linux

package sequential

import "golang.org/x/sys/unix"

// dropFromCache advises the kernel that the file's written pages will not be
// read back soon, so flushing a large table does not evict hotter pages.
func dropFromCache(fd uintptr) {
	// best effort; the advice failing costs nothing but cache pressure
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_DONTNEED)
}
