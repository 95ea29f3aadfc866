package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brscript"
	"github.com/dragonball-hacks/vzboot/pkg/console"
	"github.com/dragonball-hacks/vzboot/pkg/device"
	"github.com/dragonball-hacks/vzboot/pkg/ibuf"
	"github.com/dragonball-hacks/vzboot/pkg/link"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
	"github.com/dragonball-hacks/vzboot/pkg/transport"
	"github.com/dragonball-hacks/vzboot/pkg/vz328"
)

var (
	serialPort  = flag.String("serial", "/dev/ttyUSB0", "Serial port path (like /dev/ttyUSB0, or COM2).")
	useEmulator = flag.Bool("emulator", false, "Wait for an emulator or boardsim on a UNIX socket instead of using a serial port.")
	socketPath  = flag.String("socket", device.DefaultSocket, "UNIX socket path for -emulator.")
	imageFile   = flag.String("image", "", "Work on a memory image file instead of a board.")
	imageBase   = flag.String("image-base", "0", "Address of the first byte of -image.")
	resetWait   = flag.Duration("reset-wait", 15*time.Second, "Time to press the board reset button before the handshake.")
	blinks      = flag.Int("blink", 4, "How many times to blink the LEDs after connecting.")
	skipInit    = flag.Bool("skip-init", false, "Do not send the board init records.")
	initScript  = flag.String("init-script", "", "B-record script to use instead of the built-in board init.")
	timeout     = flag.Duration("timeout", 5*time.Second, "How long the board may stay silent during an exchange.")
	fastUpload  = flag.Bool("fast-upload", false, "Upload binaries through the write routine instead of data records.")
	settle      = flag.Duration("settle", 2*time.Second, "Pause before streaming bytes into a running routine.")
	byteDelay   = flag.Duration("byte-delay", 50*time.Millisecond, "Pause after every byte streamed into a running routine.")
	verbose     = flag.Bool("v", false, "Verbose logging.")
)

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	if *imageFile != "" {
		err = runImage(ctx)
	} else {
		err = runBoard(ctx)
	}
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}
}

func sessionOptions() []console.Option {
	return []console.Option{
		console.WithMemoryMap(vz328.MemoryMap(), "sdram"),
		console.WithFastUpload(*fastUpload),
	}
}

func runImage(ctx context.Context) error {
	base, err := console.ParseNumber(*imageBase)
	if err != nil || base > 1<<32-1 {
		return fmt.Errorf("bad -image-base %q", *imageBase)
	}
	img := device.NewImageFile(*imageFile, uint32(base))
	if err := img.Open(); err != nil {
		return fmt.Errorf("cannot open image: %w", err)
	}
	defer img.Close()
	fmt.Printf("Using %s\n", img.Name())

	return console.NewSession(img, os.Stdout, sessionOptions()...).Run(ctx, os.Stdin)
}

func runBoard(ctx context.Context) error {
	var dev device.Device
	if *useEmulator {
		emu, err := device.NewEmulator(*socketPath)
		if err != nil {
			return fmt.Errorf("cannot create new emulator connection: %w", err)
		}
		dev = emu
	} else {
		if *serialPort == "" {
			return fmt.Errorf("must specify a serial port path")
		}
		dev = device.NewBoard(*serialPort)
	}

	port, err := dev.Connect(ctx)
	if err != nil {
		return fmt.Errorf("cannot connect to %s: %w", dev.Name(), err)
	}
	defer dev.Disconnect()
	log.Printf("Connected to %s", dev.Name())

	if !*useEmulator {
		fmt.Println("press reset button now!")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(*resetWait):
		}
	}

	lm, err := link.NewManager(port)
	if err != nil {
		return err
	}
	if err := lm.Connect(ctx, vz328.BaudSteps); err != nil {
		return fmt.Errorf("cannot bring up the link: %w", err)
	}

	eng, err := transport.New(port, transport.WithTimeout(*timeout), transport.WithInjectTiming(*settle, *byteDelay))
	if err != nil {
		return err
	}
	buf, err := ibuf.New(eng, vz328.InstructionBuffer, vz328.InstructionBufferSize)
	if err != nil {
		return err
	}
	mem, err := memory.New(eng, buf)
	if err != nil {
		return err
	}

	if err := bringup(ctx, eng); err != nil {
		return err
	}
	fmt.Println("done")

	opts := append(sessionOptions(), console.WithLink(port, os.Stdin))
	return console.NewSession(mem, os.Stdout, opts...).Run(ctx, os.Stdin)
}

func bringup(ctx context.Context, s brscript.Sender) error {
	b := vz328.Bringup{Blinks: *blinks, BlinkInterval: time.Second}
	if !*skipInit {
		var err error
		if *initScript != "" {
			b.Script, err = brscript.FromFile(*initScript)
		} else {
			b.Script, err = vz328.InitScript()
		}
		if err != nil {
			return fmt.Errorf("cannot load init script: %w", err)
		}
	}
	fmt.Println("flashing the leds a bit to confirm...")
	return b.Run(ctx, s)
}
