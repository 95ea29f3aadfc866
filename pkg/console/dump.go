package console

import (
	"fmt"
	"io"
)

const dumpWidth = 8

func printable(c byte) byte {
	if c >= 0x20 && c < 0x7F {
		return c
	}
	return ' '
}

// PrintBlock writes data as an address labeled table, dumpWidth bytes per
// row, each byte in hex with its character. Rows are aligned to dumpWidth,
// so a block that starts mid-row is padded on the left.
func PrintBlock(w io.Writer, address uint32, data []byte, headers bool) {
	if headers {
		fmt.Fprint(w, "          \t")
		for i := 0; i < dumpWidth; i++ {
			fmt.Fprintf(w, "0x%02x\t\t", i)
		}
		fmt.Fprint(w, "\n\n")
	}

	pad := int(address % dumpWidth)
	row := address - uint32(pad)
	for i := -pad; i < len(data); i += dumpWidth {
		fmt.Fprintf(w, "0x%08x\t", row)
		for j := i; j < i+dumpWidth && j < len(data); j++ {
			if j < 0 {
				fmt.Fprint(w, "       \t")
				continue
			}
			fmt.Fprintf(w, "0x%02x[%c]\t", data[j], printable(data[j]))
		}
		fmt.Fprintln(w)
		row += dumpWidth
	}
}
