package link

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// InitialBaud is the rate the boot ROM listens at after reset.
const InitialBaud = 19200

// Port is the single connection to the board. Reads return (0, nil) once the
// read timeout elapses without data, so callers can poll.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(timeout time.Duration) error
	// SetBaud reconfigures the local side of the link and drops any input
	// that arrived at the old rate.
	SetBaud(baud int) error
}

type serialPort struct {
	serial.Port
	name string
	mode serial.Mode
}

// OpenSerial opens a serial device in raw 8N1 mode without flow control.
func OpenSerial(name string, baud int) (Port, error) {
	mode := serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, &mode)
	if err != nil {
		return nil, fmt.Errorf("cannot open serial port %q: %w", name, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("cannot flush serial port %q: %w", name, err)
	}
	log.Debugf("Opened %s at %d baud", name, baud)
	return &serialPort{Port: p, name: name, mode: mode}, nil
}

func (s *serialPort) SetBaud(baud int) error {
	mode := s.mode
	mode.BaudRate = baud
	if err := s.Port.SetMode(&mode); err != nil {
		return fmt.Errorf("cannot set %s to %d baud: %w", s.name, baud, err)
	}
	s.mode = mode
	return s.Port.ResetInputBuffer()
}

func (s *serialPort) String() string {
	return fmt.Sprintf("%s@%d", s.name, s.mode.BaudRate)
}

// socketPort adapts a stream connection (an emulator or the board simulator
// on a UNIX socket) to Port. There is no line rate, so SetBaud only records it.
type socketPort struct {
	conn        net.Conn
	readTimeout time.Duration
	baud        int
}

// NewSocketPort wraps conn as a Port.
func NewSocketPort(conn net.Conn) Port {
	return &socketPort{conn: conn, baud: InitialBaud}
}

func (s *socketPort) Read(p []byte) (int, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := s.conn.Read(p)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (s *socketPort) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *socketPort) Close() error {
	return s.conn.Close()
}

func (s *socketPort) SetReadTimeout(timeout time.Duration) error {
	s.readTimeout = timeout
	return nil
}

func (s *socketPort) SetBaud(baud int) error {
	log.Debugf("Socket link: ignoring baud change %d -> %d", s.baud, baud)
	s.baud = baud
	return nil
}
