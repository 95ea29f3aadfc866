package device

import (
	"context"
	"fmt"

	"github.com/dragonball-hacks/vzboot/pkg/link"
)

// Board represents a real board connected to a serial port.
type Board struct {
	serialPath string
	port       link.Port
}

func NewBoard(serialPortNameOrPath string) *Board {
	return &Board{serialPath: serialPortNameOrPath}
}

func (b *Board) Name() string {
	return fmt.Sprintf("Real board at %q", b.serialPath)
}

func (b *Board) Connect(_ context.Context) (link.Port, error) {
	if b.port != nil {
		return nil, fmt.Errorf("%s is already connected", b.serialPath)
	}
	port, err := link.OpenSerial(b.serialPath, link.InitialBaud)
	if err != nil {
		return nil, err
	}
	b.port = port
	return port, nil
}

func (b *Board) Disconnect() error {
	if b.port == nil {
		return fmt.Errorf("already disconnected")
	}
	err := b.port.Close()
	b.port = nil
	return err
}
