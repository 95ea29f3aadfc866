//go:build linux || darwin || freebsd || netbsd || openbsd

package console

import (
	"os"

	"golang.org/x/sys/unix"
)

// makeRaw turns off line buffering and echo on the terminal, keeping output
// processing, and returns a function that puts the old settings back.
func makeRaw(term *os.File) (func(), error) {
	fd := int(term.Fd())
	old, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return nil, err
	}
	raw := *old
	raw.Lflag &^= unix.ECHO | unix.ECHOK | unix.ICANON
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, &raw); err != nil {
		return nil, err
	}
	return func() {
		unix.IoctlSetTermios(fd, ioctlWriteTermios, old)
	}, nil
}
