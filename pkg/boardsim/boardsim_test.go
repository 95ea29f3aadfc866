package boardsim_test

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/dragonball-hacks/vzboot/pkg/boardsim"
	"github.com/dragonball-hacks/vzboot/pkg/ibuf"
	"github.com/dragonball-hacks/vzboot/pkg/link"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
	"github.com/dragonball-hacks/vzboot/pkg/transport"
	"github.com/dragonball-hacks/vzboot/pkg/vz328"
)

// connect brings up the whole host stack on top of port.
func connect(t *testing.T, port link.Port) (*transport.Engine, *memory.Engine) {
	t.Helper()
	ctx := context.Background()
	m, err := link.NewManager(port, link.WithSettle(0), link.WithTimeout(time.Second), link.WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager(): %v", err)
	}
	if err := m.Connect(ctx, vz328.BaudSteps); err != nil {
		t.Fatalf("Connect(): %v", err)
	}
	eng, err := transport.New(port, transport.WithTimeout(time.Second), transport.WithInjectTiming(0, 0), transport.WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("transport.New(): %v", err)
	}
	buf, err := ibuf.New(eng, vz328.InstructionBuffer, vz328.InstructionBufferSize)
	if err != nil {
		t.Fatalf("ibuf.New(): %v", err)
	}
	mem, err := memory.New(eng, buf)
	if err != nil {
		t.Fatalf("memory.New(): %v", err)
	}
	return eng, mem
}

func TestConnect(t *testing.T) {
	b := boardsim.New()
	connect(t, b)
	if b.Baud() != 115200 {
		t.Errorf("board UART at %d baud after connect, want 115200", b.Baud())
	}
}

func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		desc   string
		addr   uint32
		length int
	}{
		{desc: "ten bytes", addr: 0x1000, length: 10},
		{desc: "64K", addr: 0x20000, length: 0x10000},
	}
	for _, tc := range testCases {
		b := boardsim.New()
		_, mem := connect(t, b)
		src := make([]byte, tc.length)
		for i := range src {
			src[i] = byte(i ^ (i >> 8))
		}
		ctx := context.Background()
		if err := mem.WriteMemory(ctx, tc.addr, src); err != nil {
			t.Fatalf("Test %q: WriteMemory(): %v", tc.desc, err)
		}
		if got := b.Peek(tc.addr, tc.length); !bytes.Equal(got, src) {
			t.Fatalf("Test %q: board memory differs after write", tc.desc)
		}
		got := make([]byte, tc.length)
		if err := mem.ReadMemory(ctx, tc.addr, got); err != nil {
			t.Fatalf("Test %q: ReadMemory(): %v", tc.desc, err)
		}
		if !bytes.Equal(got, src) {
			t.Errorf("Test %q: read back differs from what was written", tc.desc)
		}
	}
}

func TestPokeStoreAndTest(t *testing.T) {
	b := boardsim.New()
	_, mem := connect(t, b)
	ctx := context.Background()

	if err := mem.Poke(ctx, vz328.PDDATA, 0x03, 1); err != nil {
		t.Fatalf("Poke(): %v", err)
	}
	if got := b.Peek(vz328.PDDATA, 1); got[0] != 0x03 {
		t.Errorf("PDDATA = %02X, want 03", got[0])
	}
	if err := mem.Test(ctx, 0x8000, 4*memory.TestBlock, nil); err != nil {
		t.Fatalf("Test(): %v", err)
	}
	f := memory.NewFetcher(ctx, mem)
	if v, err := f.Read32(0x8000 + 4*10); err != nil || v != 10 {
		t.Errorf("Read32() = %d, %v, want 10", v, err)
	}
}

func TestBringupOnBoard(t *testing.T) {
	b := boardsim.New()
	eng, _ := connect(t, b)
	bu, err := vz328.DefaultBringup()
	if err != nil {
		t.Fatalf("DefaultBringup(): %v", err)
	}
	bu.BlinkInterval = 0
	if err := bu.Run(context.Background(), eng); err != nil {
		t.Fatalf("Run(): %v", err)
	}
	if got := b.Peek(0xFFFFF43B, 1); got[0] != 0xCF {
		t.Errorf("PJSEL = %02X after init, want CF", got[0])
	}
	if got := b.Peek(vz328.PDDIR, 1); got[0] != vz328.LEDMask {
		t.Errorf("PDDIR = %02X after blink, want %02X", got[0], vz328.LEDMask)
	}
}

func TestJump(t *testing.T) {
	b := boardsim.New()
	_, mem := connect(t, b)
	if err := mem.Jump(context.Background(), 0x00400000); err != nil {
		t.Fatalf("Jump(): %v", err)
	}
	if j := b.Jumps(); len(j) != 1 || j[0] != 0x00400000 {
		t.Errorf("Jumps() = %X", j)
	}
}

func TestServe(t *testing.T) {
	b := boardsim.New(boardsim.IgnoreBaud())
	host, board := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Serve(ctx, board)
	}()

	port := link.NewSocketPort(host)
	_, mem := connect(t, port)
	want := []byte("over the socket")
	if err := mem.Store(context.Background(), 0x100, want); err != nil {
		t.Fatalf("Store(): %v", err)
	}
	got := make([]byte, len(want))
	if err := mem.ReadMemory(context.Background(), 0x100, got); err != nil {
		t.Fatalf("ReadMemory(): %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read %q, want %q", got, want)
	}

	cancel()
	host.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Serve() did not return")
	}
}
