//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package console

import (
	"errors"
	"os"
)

func makeRaw(_ *os.File) (func(), error) {
	return nil, errors.New("raw terminal mode is not supported on this platform")
}
