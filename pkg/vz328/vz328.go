// Package vz328 holds what the host needs to know about the MC68VZ328
// board: boot ROM addresses, baud step records, LED port, memory map and
// the bring-up sequence.
package vz328

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/brscript"
	"github.com/dragonball-hacks/vzboot/pkg/link"
	"github.com/dragonball-hacks/vzboot/pkg/memmap"
)

// Boot ROM instruction buffer.
const (
	InstructionBuffer     uint32 = 0xFFFFFFAA
	InstructionBufferSize        = 64
)

// Port D drives the two board LEDs.
const (
	PDDIR   uint32 = 0xFFFFF418
	PDDATA  uint32 = 0xFFFFF419
	LEDMask uint8  = 0x03
)

// BaudSteps program the UART1 baud register from the boot ROM's 19200 up
// to 115200, one step at a time.
var BaudSteps = []link.Step{
	{Baud: 38400, Record: "FFFFF9020100"},
	{Baud: 115200, Record: "FFFFF9030138"},
}

//go:embed init.brs
var initScript string

// InitScript returns the embedded chip select and SDRAM setup.
func InitScript() (*brscript.Script, error) {
	return brscript.Parse("init.brs", initScript)
}

// MemoryMap returns the address map after InitScript has run.
func MemoryMap() *memmap.Map {
	m := memmap.New()
	regions := []memmap.Region{
		{Name: "sdram", Base: 0x00000000, Size: 32 << 20},
		{Name: "flash", Base: 0x01000000, Size: 8 << 20},
		{Name: "nvram", Base: 0x03000000, Size: 1 << 20},
		{Name: "regs", Base: 0xFFFFF000, Size: 0xE00},
		{Name: "bootrom", Base: 0xFFFFFE00, Size: 0x200},
	}
	for _, r := range regions {
		if err := m.AddRegion(r.Name, r.Base, r.Size); err != nil {
			panic(err)
		}
	}
	return m
}

// Bringup is the sequence run once the link is up.
type Bringup struct {
	// Blinks is how many times the LEDs are toggled, zero for none.
	Blinks int
	// BlinkInterval is the time between LED toggles.
	BlinkInterval time.Duration
	// Script is sent after blinking, nil to skip.
	Script *brscript.Script
}

// DefaultBringup blinks four times and runs the embedded init script.
func DefaultBringup() (Bringup, error) {
	s, err := InitScript()
	if err != nil {
		return Bringup{}, err
	}
	return Bringup{Blinks: 4, BlinkInterval: time.Second, Script: s}, nil
}

func (b Bringup) Run(ctx context.Context, s brscript.Sender) error {
	if b.Blinks > 0 {
		if err := Blink(ctx, s, b.Blinks, b.BlinkInterval); err != nil {
			return fmt.Errorf("LED blink failed: %w", err)
		}
	}
	if b.Script != nil {
		log.Printf("Running %v", b.Script)
		// LEDs stay off while the script runs.
		if err := SetLEDs(ctx, s, 0); err != nil {
			return err
		}
		if err := b.Script.Run(ctx, s); err != nil {
			return fmt.Errorf("board init failed: %w", err)
		}
		if err := SetLEDs(ctx, s, LEDMask); err != nil {
			return err
		}
	}
	return nil
}

func SetLEDs(ctx context.Context, s brscript.Sender, v uint8) error {
	_, err := s.Send(ctx, brecord.EncodeByte(PDDATA, v&LEDMask))
	return err
}

// Blink makes port D drive the LEDs and toggles them off and on times
// times, to show the board is alive.
func Blink(ctx context.Context, s brscript.Sender, times int, interval time.Duration) error {
	if _, err := s.Send(ctx, brecord.EncodeByte(PDDIR, LEDMask)); err != nil {
		return err
	}
	for i := 0; i < times; i++ {
		for _, v := range []uint8{0, LEDMask} {
			if err := SetLEDs(ctx, s, v); err != nil {
				return err
			}
			if err := wait(ctx, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
