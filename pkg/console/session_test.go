package console

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/memmap"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
)

// fakeTarget is a sparse memory that records what was asked of it.
type fakeTarget struct {
	mem     map[uint32]byte
	stores  int
	writes  int
	sent    int
	jumps   []uint32
	jumpErr error
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{mem: map[uint32]byte{}}
}

func (f *fakeTarget) ReadMemory(_ context.Context, address uint32, dest []byte) error {
	for i := range dest {
		dest[i] = f.mem[address+uint32(i)]
	}
	return nil
}

func (f *fakeTarget) put(address uint32, data []byte) {
	for i, b := range data {
		f.mem[address+uint32(i)] = b
	}
}

func (f *fakeTarget) WriteMemory(_ context.Context, address uint32, src []byte) error {
	f.writes++
	f.put(address, src)
	return nil
}

func (f *fakeTarget) Store(_ context.Context, address uint32, data []byte) error {
	f.stores++
	f.put(address, data)
	return nil
}

func (f *fakeTarget) Poke(_ context.Context, address uint32, value uint32, width int) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], value)
	f.put(address, b[4-width:])
	return nil
}

func (f *fakeTarget) Send(_ context.Context, record []byte) (byte, error) {
	f.sent++
	rec, err := brecord.Decode(string(record))
	if err != nil {
		return 0, err
	}
	f.put(rec.Address, rec.Data)
	return 0, nil
}

func (f *fakeTarget) Jump(_ context.Context, address uint32) error {
	if f.jumpErr != nil {
		return f.jumpErr
	}
	f.jumps = append(f.jumps, address)
	return nil
}

func (f *fakeTarget) Test(ctx context.Context, start uint32, length int, progress memory.Progress) error {
	return memory.RunTest(ctx, f, start, length, progress)
}

func runSession(t *testing.T, target Target, input string, opts ...Option) string {
	t.Helper()
	var out bytes.Buffer
	s := NewSession(target, &out, opts...)
	if err := s.Run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("Run(): %v", err)
	}
	return out.String()
}

func TestSessionCommands(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "app.bin")
	payload := bytes.Repeat([]byte{0xA5}, 600)
	if err := os.WriteFile(bin, payload, 0o644); err != nil {
		t.Fatal(err)
	}
	script := filepath.Join(dir, "regs.brs")
	if err := os.WriteFile(script, []byte("00000020024E75 ; rts\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	target := newFakeTarget()
	input := strings.Join([]string{
		"mm 0x100 0x41 1 3",
		"md 0x100 4",
		"ub 0x1000 " + bin,
		"ls " + script,
		"d 0x20 2",
		"bogus",
		"ue",
		"?",
		"e",
		"md 0 1",
	}, "\n")
	out := runSession(t, target, input)

	if got := target.mem[0x102]; got != 0x41 {
		t.Errorf("mm left %02X at 0x102, want 41", got)
	}
	if !strings.Contains(out, "0x00000100\t0x41[A]\t0x41[A]\t0x41[A]\t0x00[ ]") {
		t.Errorf("dump table missing from output:\n%s", out)
	}
	if target.stores != 3 || target.writes != 0 {
		t.Errorf("ub used %d stores and %d stub writes, want 3 and 0", target.stores, target.writes)
	}
	if target.sent != 1 || target.mem[0x20] != 0x4E {
		t.Errorf("ls sent %d records", target.sent)
	}
	if !strings.Contains(out, "00000020: dc.w $4E75") {
		t.Errorf("disassembly missing from output:\n%s", out)
	}
	if !strings.Contains(out, `unknown command "bogus"`) {
		t.Errorf("syntax error not reported:\n%s", out)
	}
	if !strings.Contains(out, "not implemented") || !strings.Contains(out, "memory dump") {
		t.Errorf("ue or help output missing:\n%s", out)
	}
	if strings.Count(out, "reading") != 1 {
		t.Errorf("commands after e were run:\n%s", out)
	}
}

func TestSessionFastUpload(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "app.bin")
	if err := os.WriteFile(bin, make([]byte, 600), 0o644); err != nil {
		t.Fatal(err)
	}
	target := newFakeTarget()
	runSession(t, target, "ub 0x1000 "+bin+"\n", WithFastUpload(true))
	if target.writes != 1 || target.stores != 0 {
		t.Errorf("fast ub used %d stub writes and %d stores, want 1 and 0", target.writes, target.stores)
	}
}

func TestSessionDumpToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.bin")
	target := newFakeTarget()
	want := make([]byte, 300)
	for i := range want {
		want[i] = byte(i)
	}
	target.put(0x8000, want)
	runSession(t, target, "md 0x8000 300 "+path+"\n")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(): %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("dump file holds % X", got)
	}
}

func TestSessionMemoryTest(t *testing.T) {
	m := memmap.New()
	if err := m.AddRegion("sdram", 0x10000, 1008); err != nil {
		t.Fatal(err)
	}
	target := newFakeTarget()
	out := runSession(t, target, "mt\n", WithMemoryMap(m, "sdram"))
	if !strings.Contains(out, "readback 102f4") {
		t.Errorf("second pass did not reach the last block:\n%s", out)
	}
	if target.stores != 4 {
		t.Errorf("memory test stored %d blocks, want 4", target.stores)
	}

	out = runSession(t, newFakeTarget(), "mt\n")
	if !strings.Contains(out, "error: no default test range") {
		t.Errorf("mt without a map did not fail:\n%s", out)
	}
}

func TestSessionGo(t *testing.T) {
	target := newFakeTarget()
	out := runSession(t, target, "g 0x400000\nmd 0 1\n")
	if len(target.jumps) != 1 || target.jumps[0] != 0x400000 {
		t.Errorf("jumps = %X", target.jumps)
	}
	if strings.Contains(out, "reading") {
		t.Errorf("session went on after g:\n%s", out)
	}

	target = newFakeTarget()
	target.jumpErr = errors.New("no echo")
	out = runSession(t, target, "g 0x400000\nmd 0 1\n")
	if !strings.Contains(out, "error: no echo") || !strings.Contains(out, "reading") {
		t.Errorf("failed g should keep the session:\n%s", out)
	}
}

// pipeLink is a link that echoes in upper case what it is sent.
type pipeLink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *pipeLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(bytes.ToUpper(p))
	return len(p), nil
}

func (l *pipeLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	n, _ := l.buf.Read(p)
	l.mu.Unlock()
	if n == 0 {
		time.Sleep(time.Millisecond)
	}
	return n, nil
}

func TestSessionRun(t *testing.T) {
	target := newFakeTarget()
	link := &pipeLink{}
	link.buf.WriteString("hello\n")
	input := "r 0x400000\n" + string([]byte{EscapeChar}) + "e\n"
	out := runSession(t, target, input, WithLink(link, nil))
	if len(target.jumps) != 1 {
		t.Fatalf("r did not jump")
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("board output not passed through:\n%s", out)
	}

	out = runSession(t, newFakeTarget(), "r 0x400000\n")
	if !strings.Contains(out, "error: no link") {
		t.Errorf("r without a link did not fail:\n%s", out)
	}
}

func TestPassthrough(t *testing.T) {
	link := &pipeLink{}
	var out bytes.Buffer
	in := strings.NewReader("abc")
	done := make(chan error, 1)
	go func() {
		done <- Passthrough(context.Background(), link, in, &out)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Passthrough(): %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Passthrough() did not stop at the end of input")
	}
}

func TestPrintBlock(t *testing.T) {
	var out bytes.Buffer
	PrintBlock(&out, 0x1003, []byte("Hi!"), false)
	want := "0x00001000\t       \t       \t       \t0x48[H]\t0x69[i]\t0x21[!]\t\n"
	if out.String() != want {
		t.Errorf("PrintBlock() = %q, want %q", out.String(), want)
	}
}
