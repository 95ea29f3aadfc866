package memory

import (
	"encoding/binary"
	"fmt"
)

// Names of the patchable fields of the stubs.
const (
	FieldAddress = "address"
	FieldLength  = "length"
	FieldEnd     = "end"
)

// Field is a big-endian immediate inside a stub that gets patched before the
// stub is loaded.
type Field struct {
	Name   string
	Offset int
	Size   int // 2 or 4
}

// Stub is a precompiled 68000 routine with patchable immediates.
type Stub struct {
	name   string
	code   []byte
	fields []Field
}

// Offsets of the immediates in the stubs below.
const (
	readStubLengthOff = 2
	readStubAddrOff   = 6
	writeStubStartOff = 2
	writeStubEndOff   = 8
)

// ReadStub sends length bytes starting at address out of UART1 and returns
// to the boot ROM.
var ReadStub = mustStub("read", []byte{
	0x3e, 0x3c, 0x00, 0x00, // move.w #length,d7
	0x4d, 0xf9, 0x00, 0x00, 0x00, 0x00, // lea address,a6
	0x11, 0xde, 0xf9, 0x07, // move.b (a6)+,UTX+1.w
	0x08, 0x38, 0x00, 0x02, 0xf9, 0x06, // btst #2,UTX.w
	0x66, 0xf8, // bne.s *-6
	0x53, 0x47, // subq.w #1,d7
	0x66, 0xf0, // bne.s *-14
	0x4e, 0xf8, 0xff, 0x5a, // jmp boot ROM
}, []Field{
	{Name: FieldLength, Offset: readStubLengthOff, Size: 2},
	{Name: FieldAddress, Offset: readStubAddrOff, Size: 4},
})

// WriteStub stores bytes received on UART1 from address up to, not
// including, end and returns to the boot ROM.
var WriteStub = mustStub("write", []byte{
	0x4d, 0xf9, 0x00, 0x00, 0x00, 0x00, // lea address,a6
	0x4b, 0xf9, 0x00, 0x00, 0x00, 0x00, // lea end,a5
	0x30, 0x38, 0xf9, 0x04, // move.w URX.w,d0
	0x08, 0x00, 0x00, 0x0d, // btst #13,d0
	0x67, 0xf6, // beq.s *-8
	0x1c, 0xc0, // move.b d0,(a6)+
	0xbd, 0xcd, // cmpa.l a5,a6
	0x66, 0xf0, // bne.s *-14
	0x4e, 0xf8, 0xff, 0x5a, // jmp boot ROM
}, []Field{
	{Name: FieldAddress, Offset: writeStubStartOff, Size: 4},
	{Name: FieldEnd, Offset: writeStubEndOff, Size: 4},
})

func mustStub(name string, code []byte, fields []Field) Stub {
	s := Stub{name: name, code: code, fields: fields}
	if err := s.validate(); err != nil {
		panic(err)
	}
	return s
}

// validate checks that every field lies inside the code, has a supported
// size and does not overlap another field.
func (s Stub) validate() error {
	if len(s.code)%2 != 0 {
		return fmt.Errorf("stub %s: odd length %d", s.name, len(s.code))
	}
	used := make([]bool, len(s.code))
	for _, f := range s.fields {
		if f.Size != 2 && f.Size != 4 {
			return fmt.Errorf("stub %s: field %s has size %d", s.name, f.Name, f.Size)
		}
		if f.Offset < 0 || f.Offset+f.Size > len(s.code) {
			return fmt.Errorf("stub %s: field %s [%d, %d) outside %d bytes", s.name, f.Name, f.Offset, f.Offset+f.Size, len(s.code))
		}
		for i := f.Offset; i < f.Offset+f.Size; i++ {
			if used[i] {
				return fmt.Errorf("stub %s: field %s overlaps another field at %d", s.name, f.Name, i)
			}
			used[i] = true
		}
	}
	return nil
}

func (s Stub) Name() string {
	return s.name
}

func (s Stub) Len() int {
	return len(s.code)
}

// Fields returns the patchable fields in code order.
func (s Stub) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Patch returns a copy of the code with every field set from values.
func (s Stub) Patch(values map[string]uint32) ([]byte, error) {
	code := append([]byte(nil), s.code...)
	for _, f := range s.fields {
		v, ok := values[f.Name]
		if !ok {
			return nil, fmt.Errorf("stub %s: no value for field %s", s.name, f.Name)
		}
		switch f.Size {
		case 2:
			if v > 0xFFFF {
				return nil, fmt.Errorf("stub %s: %s value %#x does not fit 16 bits", s.name, f.Name, v)
			}
			binary.BigEndian.PutUint16(code[f.Offset:], uint16(v))
		case 4:
			binary.BigEndian.PutUint32(code[f.Offset:], v)
		}
	}
	return code, nil
}

// Match reports whether code starts with this stub, ignoring the field
// contents, and returns the field values found.
func (s Stub) Match(code []byte) (map[string]uint32, bool) {
	if len(code) < len(s.code) {
		return nil, false
	}
	inField := make([]bool, len(s.code))
	for _, f := range s.fields {
		for i := f.Offset; i < f.Offset+f.Size; i++ {
			inField[i] = true
		}
	}
	for i, b := range s.code {
		if !inField[i] && code[i] != b {
			return nil, false
		}
	}
	values := make(map[string]uint32, len(s.fields))
	for _, f := range s.fields {
		if f.Size == 2 {
			values[f.Name] = uint32(binary.BigEndian.Uint16(code[f.Offset:]))
		} else {
			values[f.Name] = binary.BigEndian.Uint32(code[f.Offset:])
		}
	}
	return values, true
}
