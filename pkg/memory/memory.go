// Package memory reads and writes target memory through the boot ROM.
//
// Bulk transfers load a small routine into the instruction buffer and run
// it: the read routine streams memory back over the serial line, the write
// routine stores bytes injected into the running exchange. Single values and
// small blocks are written with plain data records.
package memory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/ibuf"
	"github.com/dragonball-hacks/vzboot/pkg/transport"
)

var ErrBadWidth = errors.New("width must be 1, 2 or 4 bytes")

// Engine performs memory operations. It is not safe for concurrent use: the
// link carries a single exchange at a time.
type Engine struct {
	xchg     ibuf.Exchanger
	buf      *ibuf.Buffer
	maxChunk int
}

type Option func(*Engine)

// WithMaxChunk lowers the size of a single stub run.
func WithMaxChunk(n int) Option {
	return func(e *Engine) {
		if n > 0 && n <= MaxChunk {
			e.maxChunk = n
		}
	}
}

// New creates an engine that sends records through xchg and runs stubs in buf.
func New(xchg ibuf.Exchanger, buf *ibuf.Buffer, opts ...Option) (*Engine, error) {
	if xchg == nil || buf == nil {
		return nil, fmt.Errorf("exchanger and instruction buffer are required")
	}
	if buf.Capacity() < ReadStub.Len() || buf.Capacity() < WriteStub.Len() {
		return nil, fmt.Errorf("instruction buffer of %d bytes cannot hold the stubs", buf.Capacity())
	}
	e := &Engine{xchg: xchg, buf: buf, maxChunk: MaxChunk}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ReadMemory fills dest with target memory starting at address.
func (e *Engine) ReadMemory(ctx context.Context, address uint32, dest []byte) error {
	chunks, err := Chunks(address, len(dest), e.maxChunk)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		stub, err := ReadStub.Patch(map[string]uint32{
			FieldAddress: c.Address,
			FieldLength:  uint32(c.Length),
		})
		if err != nil {
			return err
		}
		if err := e.buf.Load(ctx, stub); err != nil {
			return err
		}
		log.Debugf("Reading %#x bytes at %08X", c.Length, c.Address)
		if _, err := e.buf.Execute(ctx, c.Length, nil, dest[c.Offset:c.Offset+c.Length]); err != nil {
			return fmt.Errorf("read at %08X failed: %w", c.Address, err)
		}
	}
	return nil
}

// WriteMemory stores src at address by injecting it into the write routine.
// Every byte is paced by the transport, so this is slow but needs only two
// records per chunk.
func (e *Engine) WriteMemory(ctx context.Context, address uint32, src []byte) error {
	chunks, err := Chunks(address, len(src), e.maxChunk)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		stub, err := WriteStub.Patch(map[string]uint32{
			FieldAddress: c.Address,
			FieldEnd:     c.Address + uint32(c.Length),
		})
		if err != nil {
			return err
		}
		if err := e.buf.Load(ctx, stub); err != nil {
			return err
		}
		log.Debugf("Writing %#x bytes at %08X", c.Length, c.Address)
		if _, err := e.buf.Execute(ctx, 0, src[c.Offset:c.Offset+c.Length], nil); err != nil {
			return fmt.Errorf("write at %08X failed: %w", c.Address, err)
		}
	}
	return nil
}

// Store writes data at address with plain data records of up to
// brecord.MaxPayload bytes each.
func (e *Engine) Store(ctx context.Context, address uint32, data []byte) error {
	chunks, err := Chunks(address, len(data), brecord.MaxPayload)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		rec, err := brecord.Encode(c.Address, data[c.Offset:c.Offset+c.Length])
		if err != nil {
			return err
		}
		if _, err := e.xchg.Exchange(ctx, rec, 0, nil, nil); err != nil {
			return fmt.Errorf("store at %08X failed: %w", c.Address, err)
		}
	}
	return nil
}

// Poke writes a single value of width bytes.
func (e *Engine) Poke(ctx context.Context, address uint32, value uint32, width int) error {
	var rec []byte
	switch width {
	case 1:
		rec = brecord.EncodeByte(address, uint8(value))
	case 2:
		rec = brecord.EncodeWord(address, uint16(value))
	case 4:
		rec = brecord.EncodeDouble(address, value)
	default:
		return fmt.Errorf("%w: got %d", ErrBadWidth, width)
	}
	if err := checkRange(address, width); err != nil {
		return err
	}
	if _, err := e.xchg.Exchange(ctx, rec, 0, nil, nil); err != nil {
		return fmt.Errorf("poke at %08X failed: %w", address, err)
	}
	return nil
}

// Send writes a single record, such as a line of a script.
func (e *Engine) Send(ctx context.Context, record []byte) (byte, error) {
	return e.xchg.Exchange(ctx, record, 0, nil, nil)
}

// Jump starts execution at address. The code is not expected to return, so
// only the record echo is awaited and anything the code prints is left on
// the link.
func (e *Engine) Jump(ctx context.Context, address uint32) error {
	log.Infof("Jumping to %08X", address)
	if _, err := e.xchg.Exchange(ctx, brecord.EncodeExecute(address), transport.Unbounded, nil, nil); err != nil {
		return fmt.Errorf("jump to %08X failed: %w", address, err)
	}
	return nil
}
