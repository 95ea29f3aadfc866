package console

import (
	"context"
	"io"

	log "github.com/sirupsen/logrus"
)

// EscapeChar ends a passthrough session (Ctrl-]).
const EscapeChar = 0x1D

const maxDrainReads = 16

// Passthrough copies in to link and link to out until EscapeChar is read
// from in. link reads are expected to time out regularly so ctx is checked.
func Passthrough(ctx context.Context, link io.ReadWriter, in io.Reader, out io.Writer) error {
	done := make(chan error, 1)
	go func() {
		b := make([]byte, 1)
		for {
			n, err := in.Read(b)
			if err != nil {
				done <- err
				return
			}
			if n == 0 {
				continue
			}
			if b[0] == EscapeChar {
				done <- nil
				return
			}
			if _, err := link.Write(b); err != nil {
				done <- err
				return
			}
		}
	}()

	buf := make([]byte, 256)
	for {
		select {
		case err := <-done:
			log.Debugf("Passthrough finished: %v", err)
			if err != nil && err != io.EOF {
				return err
			}
			return drain(link, buf, out)
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := link.Read(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		}
	}
}

// drain copies what the link still holds until a read comes back empty,
// giving up after maxDrainReads reads for code that never stops talking.
func drain(link io.Reader, buf []byte, out io.Writer) error {
	for i := 0; i < maxDrainReads; i++ {
		n, err := link.Read(buf)
		if err != nil || n == 0 {
			return err
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}
