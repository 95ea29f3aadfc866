package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/boardsim"
	"github.com/dragonball-hacks/vzboot/pkg/device"
)

var (
	socketPath = flag.String("socket", device.DefaultSocket, "UNIX socket vzboot -emulator listens on.")
	imageFile  = flag.String("image", "", "Preload simulated memory from this file.")
	imageBase  = flag.Uint64("image-base", 0, "Address to preload -image at.")
	verbose    = flag.Bool("v", false, "Verbose logging.")
)

func main() {
	flag.Parse()
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	board := boardsim.New(boardsim.IgnoreBaud())
	if *imageFile != "" {
		data, err := os.ReadFile(*imageFile)
		if err != nil {
			fmt.Println("Error reading image:", err)
			os.Exit(1)
		}
		board.Poke(uint32(*imageBase), data)
		log.Printf("Loaded %d bytes at %08X", len(data), uint32(*imageBase))
	}

	// vzboot owns the socket and waits for us to dial in.
	conn, err := net.Dial("unix", *socketPath)
	if err != nil {
		fmt.Println("Error connecting to socket:", err)
		os.Exit(1)
	}
	log.Printf("Board simulator connected to %s", *socketPath)

	if err := board.Serve(ctx, conn); err != nil && err != context.Canceled {
		fmt.Println("Board simulator stopped:", err)
		os.Exit(1)
	}
	log.Println("Board simulator done")
}
