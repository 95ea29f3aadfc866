package console

import (
	"fmt"

	"github.com/dragonball-hacks/vzboot/pkg/memory"
)

// Decoder turns the instruction at pc into text and its size in bytes.
type Decoder interface {
	Decode(f *memory.Fetcher, pc uint32) (text string, size int, err error)
}

// RawDecoder prints every word as data. It is used when no 68000
// disassembler is plugged in.
type RawDecoder struct{}

func (RawDecoder) Decode(f *memory.Fetcher, pc uint32) (string, int, error) {
	w, err := f.Read16(pc)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("dc.w $%04X", w), 2, nil
}
