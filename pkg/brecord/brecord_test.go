package brecord

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEncode(t *testing.T) {
	testCases := []struct {
		desc    string
		addr    uint32
		data    []byte
		want    string
		wantErr bool
	}{
		{
			desc: "two byte payload",
			addr: 0x00001000,
			data: []byte{0xDE, 0xAD},
			want: "0000100002DEAD\n",
		},
		{
			desc: "execute record",
			addr: 0x00000400,
			data: nil,
			want: "0000040000\n",
		},
		{
			desc: "high address, lowercase never emitted",
			addr: 0xFFFFF902,
			data: []byte{0x0a},
			want: "FFFFF902010A\n",
		},
		{
			desc:    "payload too large",
			addr:    0,
			data:    make([]byte, MaxPayload+1),
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		got, err := Encode(tc.addr, tc.data)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Test %q: failed = %t (%v), want %t", tc.desc, err != nil, err, tc.wantErr)
		}
		if err != nil {
			if !errors.Is(err, ErrPayloadTooLarge) {
				t.Errorf("Test %q: got error %v, want ErrPayloadTooLarge", tc.desc, err)
			}
			continue
		}
		if string(got) != tc.want {
			t.Errorf("Test %q: got %q, want %q", tc.desc, got, tc.want)
		}
	}
}

func TestEncodeShape(t *testing.T) {
	addrs := []uint32{0, 1, 0x00400000, 0x7FFFFFFF, 0xFFFFFFAA, 0xFFFFFFFF}
	for _, addr := range addrs {
		for n := 0; n <= MaxPayload; n += 17 {
			data := make([]byte, n)
			for i := range data {
				data[i] = byte(i*31 + 7)
			}
			rec, err := Encode(addr, data)
			if err != nil {
				t.Fatalf("Encode(%08X, %d bytes): %v", addr, n, err)
			}
			if len(rec) != 8+2+2*n+1 || len(rec) != EncodedLen(n) {
				t.Fatalf("Encode(%08X, %d bytes): got length %d, want %d", addr, n, len(rec), EncodedLen(n))
			}
			if rec[len(rec)-1] != '\n' {
				t.Fatalf("Encode(%08X, %d bytes): missing terminator", addr, n)
			}
			body := string(rec[:len(rec)-1])
			if body != strings.ToUpper(body) {
				t.Fatalf("Encode(%08X, %d bytes): %q is not uppercase", addr, n, body)
			}
			if want := fmt.Sprintf("%08X", addr); body[:8] != want {
				t.Fatalf("Encode(%08X, %d bytes): address field %q, want %q", addr, n, body[:8], want)
			}
		}
	}
}

func TestEncodeImmediates(t *testing.T) {
	testCases := []struct {
		desc string
		got  []byte
		want string
	}{
		{"byte", EncodeByte(0xFFFFF419, 0x03), "FFFFF4190103\n"},
		{"word", EncodeWord(0xFFFFFFAA, 0x4E71), "FFFFFFAA024E71\n"},
		{"double", EncodeDouble(0xFFFFF304, 0x007FFFFF), "FFFFF30404007FFFFF\n"},
		{"execute", EncodeExecute(0xFFFFFFAA), "FFFFFFAA00\n"},
	}
	for _, tc := range testCases {
		if string(tc.got) != tc.want {
			t.Errorf("Test %q: got %q, want %q", tc.desc, tc.got, tc.want)
		}
	}
}

func TestDecode(t *testing.T) {
	testCases := []struct {
		desc     string
		line     string
		wantErr  bool
		wantAddr uint32
		wantData []byte
	}{
		{desc: "write", line: "0000100002DEAD\n", wantAddr: 0x1000, wantData: []byte{0xDE, 0xAD}},
		{desc: "execute", line: "0000040000", wantAddr: 0x400},
		{desc: "lowercase", line: "fffff0000118", wantAddr: 0xFFFFF000, wantData: []byte{0x18}},
		{desc: "short", line: "0000", wantErr: true},
		{desc: "count mismatch", line: "0000100003DEAD", wantErr: true},
		{desc: "not hex", line: "0000100001ZZ", wantErr: true},
	}
	for _, tc := range testCases {
		rec, err := Decode(tc.line)
		if (err != nil) != tc.wantErr {
			t.Fatalf("Test %q: failed = %t (%v), want %t", tc.desc, err != nil, err, tc.wantErr)
		}
		if err != nil {
			continue
		}
		if rec.Address != tc.wantAddr {
			t.Errorf("Test %q: got address %08X, want %08X", tc.desc, rec.Address, tc.wantAddr)
		}
		if !bytes.Equal(rec.Data, tc.wantData) {
			t.Errorf("Test %q: got data %X, want %X", tc.desc, rec.Data, tc.wantData)
		}
		if rec.IsExecute() != (len(tc.wantData) == 0) {
			t.Errorf("Test %q: IsExecute() = %t", tc.desc, rec.IsExecute())
		}
	}
}
