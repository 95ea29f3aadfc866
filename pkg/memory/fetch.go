package memory

import (
	"context"
	"encoding/binary"
)

// Reader is anything that can read target memory.
type Reader interface {
	ReadMemory(ctx context.Context, address uint32, dest []byte) error
}

// Fetcher reads big-endian values of target memory, for disassemblers and
// other code that pulls a few bytes at a time.
type Fetcher struct {
	ctx context.Context
	r   Reader
}

func NewFetcher(ctx context.Context, r Reader) *Fetcher {
	return &Fetcher{ctx: ctx, r: r}
}

func (f *Fetcher) Read8(address uint32) (uint8, error) {
	var b [1]byte
	if err := f.r.ReadMemory(f.ctx, address, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (f *Fetcher) Read16(address uint32) (uint16, error) {
	var b [2]byte
	if err := f.r.ReadMemory(f.ctx, address, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func (f *Fetcher) Read32(address uint32) (uint32, error) {
	var b [4]byte
	if err := f.r.ReadMemory(f.ctx, address, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
