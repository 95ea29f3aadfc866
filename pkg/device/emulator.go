package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/link"
)

const (
	DefaultSocket = "/tmp/vzboot.sock"
)

// Emulator waits on a UNIX socket for an emulator, or the board simulator,
// to connect and talks to it as if it were the serial line.
type Emulator struct {
	socketPath string
	listener   net.Listener
	conn       net.Conn
}

func NewEmulator(socketPath string) (*Emulator, error) {
	// Remove the socket file if it already exists
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error removing existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("error creating socket listener: %w", err)
	}

	return &Emulator{
		socketPath: socketPath,
		listener:   listener,
	}, nil
}

func (e *Emulator) Name() string {
	return fmt.Sprintf("Emulator on %q", e.socketPath)
}

func (e *Emulator) Connect(ctx context.Context) (link.Port, error) {
	log.Println("Waiting for emulator to connect")

	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := e.listener.Accept()
		ch <- accepted{conn, err}
	}()

	select {
	case <-ctx.Done():
		// Unblocks Accept.
		e.listener.Close()
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return nil, fmt.Errorf("cannot accept emulator connection: %w", a.err)
		}
		log.Println("Emulator connected")
		e.conn = a.conn
		return link.NewSocketPort(a.conn), nil
	}
}

func (e *Emulator) Disconnect() error {
	var err error
	if e.conn != nil {
		err = e.conn.Close()
		e.conn = nil
	}
	if lerr := e.listener.Close(); err == nil && lerr != nil && !isClosedErr(lerr) {
		err = lerr
	}
	os.Remove(e.socketPath)
	return err
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
