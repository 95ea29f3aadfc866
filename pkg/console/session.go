package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
	"github.com/dragonball-hacks/vzboot/pkg/brscript"
	"github.com/dragonball-hacks/vzboot/pkg/memmap"
	"github.com/dragonball-hacks/vzboot/pkg/memory"
)

const (
	Prompt = ">"
	// dumpBlock is how much md reads per stub run.
	dumpBlock = 256
)

// Target is what the console drives: a board behind the memory engine or an
// offline memory image.
type Target interface {
	memory.Reader
	WriteMemory(ctx context.Context, address uint32, src []byte) error
	Store(ctx context.Context, address uint32, data []byte) error
	Poke(ctx context.Context, address uint32, value uint32, width int) error
	Send(ctx context.Context, record []byte) (byte, error)
	Jump(ctx context.Context, address uint32) error
	Test(ctx context.Context, start uint32, length int, progress memory.Progress) error
}

type Option func(*Session)

// WithFastUpload makes ub go through the write stub instead of data records.
func WithFastUpload(fast bool) Option {
	return func(s *Session) {
		s.fastUpload = fast
	}
}

// WithMemoryMap labels dumps and picks the default memory test range.
func WithMemoryMap(m *memmap.Map, testRegion string) Option {
	return func(s *Session) {
		s.mmap = m
		s.testRegion = testRegion
	}
}

func WithDecoder(d Decoder) Option {
	return func(s *Session) {
		s.decoder = d
	}
}

// WithLink gives r a connection to talk to the running code over. term is
// the terminal put in raw mode meanwhile, nil for none.
func WithLink(link io.ReadWriter, term *os.File) Option {
	return func(s *Session) {
		s.link = link
		s.term = term
	}
}

// Session runs console commands against a target.
type Session struct {
	target     Target
	out        io.Writer
	in         *bufio.Reader
	fastUpload bool
	mmap       *memmap.Map
	testRegion string
	decoder    Decoder
	link       io.ReadWriter
	term       *os.File
}

func NewSession(target Target, out io.Writer, opts ...Option) *Session {
	s := &Session{
		target:  target,
		out:     out,
		decoder: RawDecoder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads commands from in until Exit, Go, the end of input or ctx is
// done. Command failures are reported and the loop goes on.
func (s *Session) Run(ctx context.Context, in io.Reader) error {
	s.in = bufio.NewReader(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(s.out, Prompt)
		line, err := s.in.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}
		cmd, perr := Parse(line)
		if perr != nil {
			fmt.Fprintln(s.out, perr)
			continue
		}
		if cmd == nil {
			continue
		}
		done, xerr := s.Execute(ctx, cmd)
		if xerr != nil {
			if errors.Is(xerr, context.Canceled) {
				return xerr
			}
			fmt.Fprintf(s.out, "error: %v\n", xerr)
		}
		if done {
			return nil
		}
	}
}

// Execute runs one command. done reports whether the session is over.
func (s *Session) Execute(ctx context.Context, cmd Command) (done bool, err error) {
	switch c := cmd.(type) {
	case MemoryDump:
		return false, s.memoryDump(ctx, c)
	case MemoryModify:
		return false, s.memoryModify(ctx, c)
	case MemoryTest:
		return false, s.memoryTest(ctx, c)
	case UploadBinary:
		return false, s.uploadBinary(ctx, c)
	case LoadScript:
		return false, s.loadScript(ctx, c)
	case Disassemble:
		return false, s.disassemble(ctx, c)
	case Run:
		return false, s.run(ctx, c)
	case Go:
		fmt.Fprintf(s.out, "jumping to code at 0x%08X\n", c.Address)
		if err := s.target.Jump(ctx, c.Address); err != nil {
			return false, err
		}
		return true, nil
	case UploadELF, FlashWrite:
		fmt.Fprintln(s.out, "not implemented")
		return false, nil
	case Help:
		fmt.Fprint(s.out, helpText)
		return false, nil
	case Exit:
		return true, nil
	default:
		panic(fmt.Sprintf("unhandled command %T", cmd))
	}
}

func (s *Session) memoryDump(ctx context.Context, c MemoryDump) error {
	var file *os.File
	if c.File != "" {
		fmt.Fprintf(s.out, "reading %d bytes starting at 0x%08X into file %s\n", c.Length, c.Address, c.File)
		f, err := os.Create(c.File)
		if err != nil {
			return fmt.Errorf("failed to open output file: %w", err)
		}
		defer f.Close()
		file = f
	} else {
		fmt.Fprintf(s.out, "reading %d bytes starting at 0x%08X\n", c.Length, c.Address)
		if s.mmap != nil {
			fmt.Fprintf(s.out, "%s\n", s.mmap.Label(c.Address))
		}
	}

	block := make([]byte, dumpBlock)
	for off := 0; off < c.Length; off += dumpBlock {
		n := dumpBlock
		if c.Length-off < n {
			n = c.Length - off
		}
		addr := c.Address + uint32(off)
		if err := s.target.ReadMemory(ctx, addr, block[:n]); err != nil {
			return err
		}
		if file != nil {
			if _, err := file.Write(block[:n]); err != nil {
				return err
			}
			continue
		}
		PrintBlock(s.out, addr, block[:n], off == 0)
	}
	if file != nil {
		return file.Close()
	}
	return nil
}

func (s *Session) memoryModify(ctx context.Context, c MemoryModify) error {
	fmt.Fprintf(s.out, "writing 0x%X %d times starting at 0x%08X\n", c.Value, c.Count, c.Address)
	addr := c.Address
	for i := 0; i < c.Count; i++ {
		if err := s.target.Poke(ctx, addr, c.Value, c.Width); err != nil {
			return err
		}
		addr += uint32(c.Width)
	}
	return nil
}

func (s *Session) memoryTest(ctx context.Context, c MemoryTest) error {
	if c.UseDefaults {
		if s.mmap == nil {
			return fmt.Errorf("no default test range, give a start and length")
		}
		r, ok := s.mmap.Lookup(s.testRegion)
		if !ok {
			return fmt.Errorf("no region %q to test", s.testRegion)
		}
		c.Start, c.Length = r.Base, int(r.Size)
	}
	err := s.target.Test(ctx, c.Start, c.Length, func(pass int, addr uint32) {
		what := "write"
		if pass == 2 {
			what = "readback"
		}
		fmt.Fprintf(s.out, "\033[2K\r%s %x", what, addr)
	})
	fmt.Fprintln(s.out)
	var mm *memory.MismatchError
	if errors.As(err, &mm) {
		fmt.Fprintf(s.out, "failed at %x, wanted %x got %x\n", mm.Address, mm.Expected, mm.Actual)
	}
	return err
}

func (s *Session) uploadBinary(ctx context.Context, c UploadBinary) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", c.File, err)
	}
	fmt.Fprintf(s.out, "loading %q to 0x%08X\n", c.File, c.Address)
	if s.fastUpload {
		if err := s.target.WriteMemory(ctx, c.Address, data); err != nil {
			return err
		}
	} else {
		for off := 0; off < len(data); off += brecord.MaxPayload {
			end := off + brecord.MaxPayload
			if end > len(data) {
				end = len(data)
			}
			if err := s.target.Store(ctx, c.Address+uint32(off), data[off:end]); err != nil {
				return err
			}
			fmt.Fprintf(s.out, "\033[2K\r%d bytes", end)
		}
		fmt.Fprintln(s.out)
	}
	fmt.Fprintf(s.out, "wrote %d bytes\n", len(data))
	return nil
}

func (s *Session) loadScript(ctx context.Context, c LoadScript) error {
	script, err := brscript.FromFile(c.File)
	if err != nil {
		return err
	}
	log.Printf("Sending %v", script)
	if err := script.Run(ctx, s.target); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "sent %d records\n", script.NumRecords())
	return nil
}

func (s *Session) disassemble(ctx context.Context, c Disassemble) error {
	fmt.Fprintf(s.out, "disassembling code at 0x%08X\n", c.Address)
	f := memory.NewFetcher(ctx, s.target)
	end := uint64(c.Address) + uint64(c.Length)
	for pc := uint64(c.Address); pc < end; {
		text, size, err := s.decoder.Decode(f, uint32(pc))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%08X: %s\n", pc, text)
		if size <= 0 {
			size = 2
		}
		pc += uint64(size)
	}
	return nil
}

func (s *Session) run(ctx context.Context, c Run) error {
	if s.link == nil {
		return fmt.Errorf("no link to the board")
	}
	fmt.Fprintf(s.out, "jumping to code at 0x%08X\n", c.Address)
	if err := s.target.Jump(ctx, c.Address); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Reading input from board, Ctrl-] to return")
	if s.term != nil {
		restore, err := makeRaw(s.term)
		if err != nil {
			log.Warnf("Cannot put terminal in raw mode: %v", err)
		} else {
			defer restore()
		}
	}
	var in io.Reader = os.Stdin
	if s.in != nil {
		in = s.in
	}
	return Passthrough(ctx, s.link, in, s.out)
}

const helpText = `md	- memory dump:	<start address> <len> [file]
mm	- memory modify:	<start address> <value> <size> <count>
mt	- memory test:	[<start address> <len>]
ub	- upload binary:	<start address> <file>
ls	- load b-record script:	<file>
ue	- upload elf
fw	- flash write:	<src start> <dst start> <len>
d	- disassemble:	<start address> <len>
r	- run, start executing from address, read input:	<address>
g	- go, start executing from address and exit:	<address>
?	- this help
e	- exit
numbers are decimal, or hex with a 0x or $ prefix
`
