package memory

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// TestBlock is the size of one block of the memory test. It fits a single
// data record and holds whole 32-bit words.
const TestBlock = 252

var ErrMismatch = errors.New("memory mismatch")

// MismatchError reports the first word that did not read back as written.
type MismatchError struct {
	Address  uint32
	Expected uint32
	Actual   uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("memory mismatch at %08X: wrote %08X, read %08X", e.Address, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrMismatch
}

// Progress is called after every block with the pass number (1 or 2) and
// the block address.
type Progress func(pass int, address uint32)

// Tester is what the memory test needs from a target.
type Tester interface {
	Reader
	Store(ctx context.Context, address uint32, data []byte) error
}

// Test runs RunTest against the board.
func (e *Engine) Test(ctx context.Context, start uint32, length int, progress Progress) error {
	return RunTest(ctx, e, start, length, progress)
}

// RunTest fills length bytes at start with an incrementing 32-bit counter,
// checking every block right after writing it, then reads the whole range a
// second time. length must be a multiple of four.
func RunTest(ctx context.Context, t Tester, start uint32, length int, progress Progress) error {
	if length%4 != 0 {
		return fmt.Errorf("test length %#x is not a multiple of 4", length)
	}
	if err := checkRange(start, length); err != nil {
		return err
	}

	log.Infof("Testing %#x bytes at %08X", length, start)
	for pass := 1; pass <= 2; pass++ {
		counter := uint32(0)
		for off := 0; off < length; off += TestBlock {
			n := TestBlock
			if length-off < n {
				n = length - off
			}
			addr := start + uint32(off)
			want := pattern(counter, n)
			counter += uint32(n / 4)

			if pass == 1 {
				if err := t.Store(ctx, addr, want); err != nil {
					return err
				}
			}
			got := make([]byte, n)
			if err := t.ReadMemory(ctx, addr, got); err != nil {
				return err
			}
			if err := compare(addr, want, got); err != nil {
				return err
			}
			if progress != nil {
				progress(pass, addr)
			}
		}
	}
	log.Infof("Memory test passed")
	return nil
}

func pattern(first uint32, n int) []byte {
	p := make([]byte, n)
	for i := 0; i < n; i += 4 {
		binary.BigEndian.PutUint32(p[i:], first)
		first++
	}
	return p
}

func compare(address uint32, want, got []byte) error {
	if bytes.Equal(want, got) {
		return nil
	}
	for i := 0; i < len(want); i += 4 {
		w := binary.BigEndian.Uint32(want[i:])
		g := binary.BigEndian.Uint32(got[i:])
		if w != g {
			return &MismatchError{Address: address + uint32(i), Expected: w, Actual: g}
		}
	}
	return nil
}
