package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrLinkFault marks a broken link. It is never retried.
	ErrLinkFault = errors.New("link fault")
	// ErrTimeout is returned when the board stops sending before an
	// exchange completes.
	ErrTimeout = errors.New("protocol timeout")
)

// LinkError describes a failed read or write on the link.
type LinkError struct {
	Op    string
	Wrote int
	Want  int
	Err   error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("link fault during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("link fault during %s: wrote %d of %d bytes", e.Op, e.Wrote, e.Want)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func (e *LinkError) Is(target error) bool {
	return target == ErrLinkFault
}

// TimeoutError reports how far an exchange got before the board went quiet.
type TimeoutError struct {
	Received int
	Want     int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("protocol timeout: received %d of %d bytes", e.Received, e.Want)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
