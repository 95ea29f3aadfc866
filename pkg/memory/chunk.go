package memory

import (
	"errors"
	"fmt"
)

// MaxChunk is the largest transfer a single stub run handles. The read stub
// counts with a 16-bit register that must stay positive.
const MaxChunk = 0x7FFF

var ErrAddressRange = errors.New("range extends past the end of the address space")

// Chunk is one stub run of a larger transfer. Offset is the position of the
// chunk inside the caller's buffer.
type Chunk struct {
	Address uint32
	Offset  int
	Length  int
}

// Chunks splits length bytes at address into runs of at most max bytes: as
// many full runs as fit, then the remainder.
func Chunks(address uint32, length int, max int) ([]Chunk, error) {
	if max <= 0 {
		return nil, fmt.Errorf("chunk size %d must be positive", max)
	}
	if err := checkRange(address, length); err != nil {
		return nil, err
	}
	chunks := make([]Chunk, 0, length/max+1)
	for off := 0; off < length; off += max {
		n := max
		if length-off < n {
			n = length - off
		}
		chunks = append(chunks, Chunk{Address: address + uint32(off), Offset: off, Length: n})
	}
	return chunks, nil
}

func checkRange(address uint32, length int) error {
	if length < 0 {
		return fmt.Errorf("negative length %d", length)
	}
	if uint64(address)+uint64(length) > 1<<32 {
		return fmt.Errorf("%w: %08X + %#x", ErrAddressRange, address, length)
	}
	return nil
}
