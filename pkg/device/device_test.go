package device

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
)

func newImageFromBlankFile(size int64, base uint32) (*ImageFile, func()) {
	f, err := os.CreateTemp("", "vzimage_*")
	if err != nil {
		panic("cannot create temp file?!")
	}
	buf := make([]byte, size)
	for i := int64(0); i < size; i++ {
		buf[i] = 0xFF
	}
	_, err = f.Write(buf)
	if err != nil {
		panic("cannot write temp file?!")
	}
	f.Close()

	return NewImageFile(f.Name(), base), func() {
		if err := os.Remove(f.Name()); err != nil {
			panic(err)
		}
	}
}

func TestImageFile(t *testing.T) {
	ctx := context.Background()
	img, cleanup := newImageFromBlankFile(16, 0x1000)
	defer cleanup()

	if err := img.Open(); err != nil {
		t.Fatalf("Error while opening a test image: %v", err)
	}
	defer img.Close()

	buf0 := []byte{'W', 'T', 'F'}
	if err := img.WriteMemory(ctx, 0x1000, buf0); err != nil {
		t.Fatalf("Cannot WriteMemory(): %v", err)
	}

	if err := img.WriteMemory(ctx, 0x100E, buf0); err == nil {
		t.Fatalf("Expected WriteMemory() past the end to fail")
	}
	if err := img.WriteMemory(ctx, 0xFFF, buf0); err == nil {
		t.Fatalf("Expected WriteMemory() below the base to fail")
	}

	rbuf := make([]byte, 2)
	if err := img.ReadMemory(ctx, 0x1002, rbuf); err != nil {
		t.Fatalf("Cannot ReadMemory(): %v", err)
	}
	if !(rbuf[0] == 'F' && rbuf[1] == 0xFF) {
		t.Fatalf("Unexpected read buffer contents: %v", rbuf)
	}

	if err := img.ReadMemory(ctx, 0x100F, rbuf); err == nil {
		t.Fatalf("Expected ReadMemory() to fail")
	}
}

func TestImageFileCommands(t *testing.T) {
	ctx := context.Background()
	img, cleanup := newImageFromBlankFile(1024, 0)
	defer cleanup()
	if err := img.Open(); err != nil {
		t.Fatalf("Open(): %v", err)
	}
	defer img.Close()

	if err := img.Poke(ctx, 0x10, 0xDEADBEEF, 4); err != nil {
		t.Fatalf("Poke(): %v", err)
	}
	f := memory.NewFetcher(ctx, img)
	if v, err := f.Read32(0x10); err != nil || v != 0xDEADBEEF {
		t.Errorf("Read32() = %08X, %v", v, err)
	}
	if err := img.Poke(ctx, 0x10, 0, 8); !errors.Is(err, memory.ErrBadWidth) {
		t.Errorf("Poke() with width 8: got %v, want ErrBadWidth", err)
	}

	if _, err := img.Send(ctx, []byte("0000002002ABCD\n")); err != nil {
		t.Fatalf("Send(): %v", err)
	}
	if v, _ := f.Read16(0x20); v != 0xABCD {
		t.Errorf("data record landed as %04X", v)
	}
	if _, err := img.Send(ctx, brecord.EncodeExecute(0)); !errors.Is(err, ErrOffline) {
		t.Errorf("Send() of an execute record: got %v, want ErrOffline", err)
	}
	if err := img.Jump(ctx, 0); !errors.Is(err, ErrOffline) {
		t.Errorf("Jump(): got %v, want ErrOffline", err)
	}

	if err := img.Test(ctx, 0, 1024, nil); err != nil {
		t.Errorf("memory test on an image: %v", err)
	}
}

func TestEmulator(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "vz.sock")
	emu, err := NewEmulator(sock)
	if err != nil {
		t.Fatalf("NewEmulator(): %v", err)
	}
	defer emu.Disconnect()

	go func() {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return
		}
		conn.Write([]byte("@"))
		time.Sleep(100 * time.Millisecond)
		conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	port, err := emu.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect(): %v", err)
	}
	if err := port.SetReadTimeout(time.Second); err != nil {
		t.Fatalf("SetReadTimeout(): %v", err)
	}
	buf := make([]byte, 1)
	if n, err := port.Read(buf); err != nil || n != 1 || buf[0] != '@' {
		t.Errorf("Read() = %d %q, %v", n, buf[:n], err)
	}
}

func TestEmulatorConnectCancelled(t *testing.T) {
	emu, err := NewEmulator(filepath.Join(t.TempDir(), "vz.sock"))
	if err != nil {
		t.Fatalf("NewEmulator(): %v", err)
	}
	defer emu.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := emu.Connect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Connect(): got %v, want context.DeadlineExceeded", err)
	}
}
