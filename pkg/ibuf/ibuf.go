// Package ibuf manages the boot ROM instruction buffer: a small fixed window
// of target memory that the boot ROM runs when it gets an execute record for
// the window's base address.
package ibuf

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
)

// Filler is the 68000 NOP used to pad the window.
const Filler uint16 = 0x4E71

var ErrStubTooLarge = errors.New("stub does not fit the instruction buffer")

// Exchanger is the part of the transport engine the buffer needs.
type Exchanger interface {
	Exchange(ctx context.Context, record []byte, extra int, inject []byte, out []byte) (byte, error)
}

// Buffer loads and runs stubs in the instruction buffer. Nothing is mirrored
// locally except the length of the last stub loaded.
type Buffer struct {
	xchg       Exchanger
	base       uint32
	capacity   int
	lastLoaded int
}

// New returns a manager for a window of capacity bytes at base. A fresh
// Buffer is needed for every new connection.
func New(xchg Exchanger, base uint32, capacity int) (*Buffer, error) {
	if capacity <= 0 || capacity%2 != 0 {
		return nil, fmt.Errorf("capacity %d must be a positive even number", capacity)
	}
	return &Buffer{xchg: xchg, base: base, capacity: capacity, lastLoaded: -1}, nil
}

func (b *Buffer) Base() uint32 {
	return b.base
}

func (b *Buffer) Capacity() int {
	return b.capacity
}

// LastLoaded is the length of the last stub loaded, or -1 if unknown.
func (b *Buffer) LastLoaded() int {
	return b.lastLoaded
}

// Load writes stub at the start of the window. A stub shorter than the
// window is always preceded by a full filler pass, so no bytes of an earlier
// stub survive behind it.
func (b *Buffer) Load(ctx context.Context, stub []byte) error {
	if len(stub) > b.capacity {
		return fmt.Errorf("%w: %d bytes, capacity %d", ErrStubTooLarge, len(stub), b.capacity)
	}
	if len(stub) < b.capacity {
		if err := b.Clear(ctx); err != nil {
			return err
		}
	}
	for off := 0; off < len(stub); off += brecord.MaxPayload {
		end := off + brecord.MaxPayload
		if end > len(stub) {
			end = len(stub)
		}
		rec, err := brecord.Encode(b.base+uint32(off), stub[off:end])
		if err != nil {
			return err
		}
		if _, err := b.xchg.Exchange(ctx, rec, 0, nil, nil); err != nil {
			b.lastLoaded = -1
			return fmt.Errorf("cannot load stub: %w", err)
		}
	}
	b.lastLoaded = len(stub)
	log.Debugf("Loaded %d byte stub at %08X", len(stub), b.base)
	return nil
}

// Clear fills the whole window with NOPs, one word per record.
func (b *Buffer) Clear(ctx context.Context) error {
	b.lastLoaded = -1
	for off := 0; off < b.capacity; off += 2 {
		rec := brecord.EncodeWord(b.base+uint32(off), Filler)
		if _, err := b.xchg.Exchange(ctx, rec, 0, nil, nil); err != nil {
			return fmt.Errorf("cannot clear instruction buffer: %w", err)
		}
	}
	return nil
}

// Execute runs the window. extra, inject and out are passed to the
// transport exchange unchanged.
func (b *Buffer) Execute(ctx context.Context, extra int, inject []byte, out []byte) (byte, error) {
	return b.xchg.Exchange(ctx, brecord.EncodeExecute(b.base), extra, inject, out)
}
