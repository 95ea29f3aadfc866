// Package boardsim models the MC68VZ328 boot ROM closely enough to drive
// the host tool without hardware: the ready handshake, character echo,
// record execution, the baud step records and the memory stubs.
//
// A Board implements link.Port, so it can be handed to the link manager
// directly, or served over a socket with Serve.
package boardsim

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/link"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
	"github.com/dragonball-hacks/vzboot/pkg/vz328"
)

type state int

const (
	stateReset   state = iota // waiting for the probe
	stateRecord                // collecting record digits
	stateLineEnd               // record ran, waiting for its terminator
	stateConsume               // write stub is storing received bytes
	stateRunning               // user code owns the UART
)

const (
	addrDigits  = 8
	countDigits = 2
)

type Option func(*Board)

// IgnoreBaud keeps every byte regardless of baud rates, for links that have
// no line rate such as sockets.
func IgnoreBaud() Option {
	return func(b *Board) {
		b.ignoreBaud = true
	}
}

// WithSteps replaces the baud step records the board reacts to.
func WithSteps(steps []link.Step) Option {
	return func(b *Board) {
		b.steps = steps
	}
}

// WithFill sets the value of memory that was never written.
func WithFill(v byte) Option {
	return func(b *Board) {
		b.fill = v
	}
}

// Board is a simulated board. It is safe for concurrent use.
type Board struct {
	mu          sync.Mutex
	mem         map[uint32]byte
	fill        byte
	out         bytes.Buffer
	state       state
	line        []byte
	consumeAt   uint32
	consumeLeft uint32
	hostBaud    int
	boardBaud   int
	ignoreBaud  bool
	steps       []link.Step
	jumps       []uint32
	readTimeout time.Duration
	closed      bool
}

func New(opts ...Option) *Board {
	b := &Board{
		mem:       map[uint32]byte{},
		hostBaud:  link.InitialBaud,
		boardBaud: link.InitialBaud,
		steps:     vz328.BaudSteps,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Write feeds bytes to the board UART.
func (b *Board) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	for _, c := range p {
		if !b.ignoreBaud && b.hostBaud != b.boardBaud {
			// Framing errors on the board side.
			continue
		}
		b.receive(c)
	}
	return len(p), nil
}

// Read returns what the board sent, waiting up to the read timeout.
func (b *Board) Read(p []byte) (int, error) {
	deadline := time.Now().Add(b.timeout())
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return 0, io.EOF
		}
		if b.out.Len() > 0 {
			n, _ := b.out.Read(p)
			b.mu.Unlock()
			return n, nil
		}
		b.mu.Unlock()
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *Board) timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readTimeout
}

func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Board) SetReadTimeout(d time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readTimeout = d
	return nil
}

// SetBaud changes the host side rate and drops pending output, like
// reconfiguring and flushing a serial port.
func (b *Board) SetBaud(baud int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hostBaud = baud
	b.out.Reset()
	return nil
}

// Baud returns the rate the board UART is programmed for.
func (b *Board) Baud() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.boardBaud
}

// Jumps returns the addresses of user code the board was told to run.
func (b *Board) Jumps() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint32(nil), b.jumps...)
}

// Peek returns n bytes of simulated memory.
func (b *Board) Peek(addr uint32, n int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peek(addr, n)
}

// Poke stores data without going through the UART.
func (b *Board) Poke(addr uint32, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, v := range data {
		b.mem[addr+uint32(i)] = v
	}
}

func (b *Board) peek(addr uint32, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		v, ok := b.mem[addr+uint32(i)]
		if !ok {
			v = b.fill
		}
		p[i] = v
	}
	return p
}

func (b *Board) receive(c byte) {
	switch b.state {
	case stateReset:
		b.out.WriteByte(link.Ready)
		b.state = stateRecord
	case stateConsume:
		b.mem[b.consumeAt] = c
		b.consumeAt++
		b.consumeLeft--
		if b.consumeLeft == 0 {
			b.state = stateLineEnd
		}
	case stateRunning:
		b.out.WriteByte(c)
	case stateLineEnd:
		if c == 0 {
			return
		}
		b.out.WriteByte(c)
		b.line = b.line[:0]
		b.state = stateRecord
	case stateRecord:
		b.record(c)
	}
}

func (b *Board) record(c byte) {
	if c == 0 {
		return
	}
	b.out.WriteByte(c)
	if !isHex(c) {
		if len(b.line) > 0 {
			log.Debugf("Board: dropping partial record %q", b.line)
		}
		b.line = b.line[:0]
		return
	}
	b.line = append(b.line, c)
	if len(b.line) < addrDigits+countDigits {
		return
	}
	count, _ := strconv.ParseUint(string(b.line[addrDigits:addrDigits+countDigits]), 16, 8)
	if len(b.line) < addrDigits+countDigits+2*int(count) {
		return
	}
	text := string(b.line)
	b.line = b.line[:0]
	b.state = stateLineEnd
	rec, err := brecord.Decode(text)
	if err != nil {
		log.Debugf("Board: ignoring %q: %v", text, err)
		return
	}
	if rec.IsExecute() {
		b.execute(rec.Address)
		return
	}
	for i, v := range rec.Data {
		b.mem[rec.Address+uint32(i)] = v
	}
	for _, s := range b.steps {
		if strings.EqualFold(s.Record, text) {
			log.Debugf("Board: UART now at %d baud", s.Baud)
			b.boardBaud = s.Baud
		}
	}
}

func (b *Board) execute(addr uint32) {
	if addr != vz328.InstructionBuffer {
		log.Debugf("Board: running user code at %08X", addr)
		b.jumps = append(b.jumps, addr)
		b.state = stateRunning
		return
	}
	code := b.peek(addr, vz328.InstructionBufferSize)
	if v, ok := memory.ReadStub.Match(code); ok {
		n := int(v[memory.FieldLength] & 0x7FFF)
		b.out.Write(b.peek(v[memory.FieldAddress], n))
		return
	}
	if v, ok := memory.WriteStub.Match(code); ok {
		start, end := v[memory.FieldAddress], v[memory.FieldEnd]
		if end != start {
			b.consumeAt = start
			b.consumeLeft = end - start
			b.state = stateConsume
		}
		return
	}
	log.Debugf("Board: instruction buffer holds no known routine")
}

// Serve pumps conn through the board until either side closes or ctx is
// done.
func (b *Board) Serve(ctx context.Context, conn net.Conn) error {
	if err := b.SetReadTimeout(10 * time.Millisecond); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				b.Write(buf[:n])
			}
			if err != nil {
				errc <- err
				cancel()
				return
			}
		}
	}()

	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := b.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if _, err := conn.Write(buf[:n]); err != nil {
			return err
		}
	}
	conn.Close()
	select {
	case err := <-errc:
		if err == io.EOF {
			return nil
		}
		return err
	default:
		return ctx.Err()
	}
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}
