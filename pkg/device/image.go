package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
)

var ErrOffline = errors.New("memory image cannot run code")

type writeableBackingStore interface {
	io.ReadWriteCloser
	io.ReadWriteSeeker
}

// ImageFile represents a memory dump on disk mapped at a base address. It
// answers the same console commands as a board, without running code.
type ImageFile struct {
	backingStore writeableBackingStore
	fileName     string
	fileSize     int64
	base         uint32
}

// NewImageFile creates an instance of ImageFile. The first byte of the file
// is at address base.
func NewImageFile(filePath string, base uint32) *ImageFile {
	return &ImageFile{
		fileName: filePath,
		base:     base,
	}
}

func (f *ImageFile) Name() string {
	return fmt.Sprintf("Memory image %q at 0x%08X", f.fileName, f.base)
}

func (f *ImageFile) Open() error {
	if f.backingStore != nil {
		return fmt.Errorf("file %q is already open", f.fileName)
	}

	file, err := os.OpenFile(f.fileName, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	fileStat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	f.backingStore = file
	f.fileSize = fileStat.Size()
	return nil
}

func (f *ImageFile) Close() error {
	if f.backingStore == nil {
		return fmt.Errorf("already closed")
	}
	if err := f.backingStore.Close(); err != nil {
		return err
	}
	f.backingStore = nil
	f.fileSize = 0
	return nil
}

func (f *ImageFile) Size() int64 {
	return f.fileSize
}

// offset translates a range of addresses into a file offset.
func (f *ImageFile) offset(address uint32, size int) (int64, error) {
	if f.backingStore == nil {
		return 0, fmt.Errorf("need to open first")
	}
	off := int64(address) - int64(f.base)
	if off < 0 || off+int64(size) > f.fileSize {
		return 0, fmt.Errorf("region [0x%08X, 0x%08X] outside image [0x%08X, 0x%08X]",
			address, int64(address)+int64(size)-1, f.base, int64(f.base)+f.fileSize-1)
	}
	return off, nil
}

func (f *ImageFile) ReadMemory(_ context.Context, address uint32, dest []byte) error {
	off, err := f.offset(address, len(dest))
	if err != nil {
		return err
	}
	if _, err := f.backingStore.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek to 0x%x: %w", off, err)
	}
	if _, err := io.ReadFull(f.backingStore, dest); err != nil {
		return fmt.Errorf("cannot read %d bytes: %w", len(dest), err)
	}
	return nil
}

func (f *ImageFile) WriteMemory(_ context.Context, address uint32, src []byte) error {
	off, err := f.offset(address, len(src))
	if err != nil {
		return err
	}
	if _, err := f.backingStore.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek to 0x%x: %w", off, err)
	}
	n, err := f.backingStore.Write(src)
	if err != nil {
		return fmt.Errorf("cannot write %d bytes: %w", len(src), err)
	}
	if n < len(src) {
		return fmt.Errorf("wrote %d bytes, want %d", n, len(src))
	}
	return nil
}

// Store is WriteMemory; an image has no slow path.
func (f *ImageFile) Store(ctx context.Context, address uint32, data []byte) error {
	return f.WriteMemory(ctx, address, data)
}

func (f *ImageFile) Poke(ctx context.Context, address uint32, value uint32, width int) error {
	var buf [4]byte
	switch width {
	case 1:
		buf[0] = uint8(value)
	case 2:
		binary.BigEndian.PutUint16(buf[:], uint16(value))
	case 4:
		binary.BigEndian.PutUint32(buf[:], value)
	default:
		return fmt.Errorf("%w: got %d", memory.ErrBadWidth, width)
	}
	return f.WriteMemory(ctx, address, buf[:width])
}

// Send applies a data record to the image. Execute records fail.
func (f *ImageFile) Send(ctx context.Context, record []byte) (byte, error) {
	rec, err := brecord.Decode(string(record))
	if err != nil {
		return 0, err
	}
	if rec.IsExecute() {
		return 0, fmt.Errorf("%w: execute at %08X", ErrOffline, rec.Address)
	}
	if err := f.WriteMemory(ctx, rec.Address, rec.Data); err != nil {
		return 0, err
	}
	return record[len(record)-2], nil
}

func (f *ImageFile) Jump(_ context.Context, address uint32) error {
	return fmt.Errorf("%w: jump to %08X", ErrOffline, address)
}

func (f *ImageFile) Test(ctx context.Context, start uint32, length int, progress memory.Progress) error {
	return memory.RunTest(ctx, f, start, length, progress)
}
