//go:build unix

package bluez

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// socketFile wraps a passed RFCOMM descriptor. Nonblocking mode puts it on
// the runtime poller so read and write deadlines apply.
func socketFile(fd int, name string) (*os.File, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bluez: set nonblock: %w", err)
	}
	return os.NewFile(uintptr(fd), name), nil
}
