// Package brecord encodes and decodes the ASCII-hex B-records spoken by the
// MC68VZ328 boot ROM.
//
// A record is 8 hex digits of address, 2 hex digits of payload length and
// 2 hex digits per payload byte, terminated by a line feed:
//
//	0000100002DEAD\n
//
// A record with an empty payload is an execute record: the boot ROM jumps to
// its address. The protocol carries no checksum.
package brecord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxPayload is the largest payload a single record can carry.
	MaxPayload = 0xFF

	addrDigits  = 8
	countDigits = 2
	Terminator  = '\n'
)

var (
	ErrPayloadTooLarge = errors.New("b-record payload too large")
	ErrMalformed       = errors.New("malformed b-record")
)

// Record is a decoded B-record.
type Record struct {
	Address uint32
	Data    []byte
}

// IsExecute reports whether the record is a jump-and-execute command.
func (r Record) IsExecute() bool {
	return len(r.Data) == 0
}

// Bytes returns the wire form of the record.
func (r Record) Bytes() ([]byte, error) {
	return Encode(r.Address, r.Data)
}

func (r Record) String() string {
	if r.IsExecute() {
		return fmt.Sprintf("exec @ %08X", r.Address)
	}
	return fmt.Sprintf("write @ %08X len %d", r.Address, len(r.Data))
}

// EncodedLen returns the number of wire bytes of a record carrying n payload bytes.
func EncodedLen(n int) int {
	return addrDigits + countDigits + 2*n + 1
}

// Encode builds the wire form of a write record.
func Encode(address uint32, data []byte) ([]byte, error) {
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(data), MaxPayload)
	}
	buf := make([]byte, 0, EncodedLen(len(data)))
	buf = append(buf, fmt.Sprintf("%08X%02X%X", address, len(data), data)...)
	buf = append(buf, Terminator)
	return buf, nil
}

// EncodeExecute builds a zero-length record that makes the boot ROM jump to address.
func EncodeExecute(address uint32) []byte {
	rec, _ := Encode(address, nil)
	return rec
}

// EncodeByte builds a record that stores one byte at address.
func EncodeByte(address uint32, value uint8) []byte {
	rec, _ := Encode(address, []byte{value})
	return rec
}

// EncodeWord builds a record that stores a big-endian 16-bit value at address.
func EncodeWord(address uint32, value uint16) []byte {
	var data [2]byte
	binary.BigEndian.PutUint16(data[:], value)
	rec, _ := Encode(address, data[:])
	return rec
}

// EncodeDouble builds a record that stores a big-endian 32-bit value at address.
func EncodeDouble(address uint32, value uint32) []byte {
	var data [4]byte
	binary.BigEndian.PutUint32(data[:], value)
	rec, _ := Encode(address, data[:])
	return rec
}

// Decode parses a single record. Surrounding whitespace, including the
// terminator, is ignored. Hex digits may be in either case.
func Decode(line string) (Record, error) {
	line = strings.TrimSpace(line)
	if len(line) < addrDigits+countDigits {
		return Record{}, fmt.Errorf("%w: %q is too short", ErrMalformed, line)
	}
	addr, err := strconv.ParseUint(line[:addrDigits], 16, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad address in %q: %v", ErrMalformed, line, err)
	}
	count, err := strconv.ParseUint(line[addrDigits:addrDigits+countDigits], 16, 8)
	if err != nil {
		return Record{}, fmt.Errorf("%w: bad count in %q: %v", ErrMalformed, line, err)
	}
	body := line[addrDigits+countDigits:]
	if len(body) != int(count)*2 {
		return Record{}, fmt.Errorf("%w: count %d does not match %d data digits", ErrMalformed, count, len(body))
	}
	rec := Record{Address: uint32(addr)}
	if count == 0 {
		return rec, nil
	}
	rec.Data = make([]byte, count)
	for i := range rec.Data {
		b, err := strconv.ParseUint(body[2*i:2*i+2], 16, 8)
		if err != nil {
			return Record{}, fmt.Errorf("%w: bad data byte %d in %q: %v", ErrMalformed, i, line, err)
		}
		rec.Data[i] = byte(b)
	}
	return rec, nil
}
