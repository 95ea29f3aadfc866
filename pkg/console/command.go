// Package console is the interactive command layer: it parses command lines
// into commands and runs them against a target.
package console

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed console command. The set of commands is closed:
// every type below implements it and nothing else does.
type Command interface {
	command()
}

// MemoryDump prints Length bytes at Address, or saves them raw to File.
type MemoryDump struct {
	Address uint32
	Length  int
	File    string
}

// MemoryModify writes Value Count times, Width bytes apart.
type MemoryModify struct {
	Address uint32
	Value   uint32
	Width   int
	Count   int
}

// MemoryTest tests Length bytes at Start. Without arguments the default
// test region is used.
type MemoryTest struct {
	Start       uint32
	Length      int
	UseDefaults bool
}

type UploadBinary struct {
	Address uint32
	File    string
}

type LoadScript struct {
	File string
}

type Disassemble struct {
	Address uint32
	Length  int
}

// Run jumps to Address and connects the terminal to the board.
type Run struct {
	Address uint32
}

// Go jumps to Address and leaves the tool.
type Go struct {
	Address uint32
}

type UploadELF struct{}

type FlashWrite struct{}

type Help struct{}

type Exit struct{}

func (MemoryDump) command()   {}
func (MemoryModify) command() {}
func (MemoryTest) command()   {}
func (UploadBinary) command() {}
func (LoadScript) command()   {}
func (Disassemble) command()  {}
func (Run) command()          {}
func (Go) command()           {}
func (UploadELF) command()    {}
func (FlashWrite) command()   {}
func (Help) command()         {}
func (Exit) command()         {}

// SyntaxError is returned by Parse for a line it cannot make sense of.
type SyntaxError struct {
	Line string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bad input %q: %s", e.Line, e.Msg)
}

// Parse turns a command line into a Command. An empty line gives a nil
// command and no error.
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	name, args := fields[0], fields[1:]
	p := &argParser{line: line, args: args}

	var cmd Command
	switch name {
	case "md":
		c := MemoryDump{Address: p.address(), Length: p.length()}
		if len(args) > 2 {
			// File names may contain spaces.
			c.File = restOf(line, 3)
		}
		p.consumed = len(args)
		cmd = c
	case "mm":
		c := MemoryModify{Address: p.address(), Value: p.value(), Width: int(p.next("width", 4)), Count: p.count()}
		if p.err == nil && c.Width != 1 && c.Width != 2 && c.Width != 4 {
			p.fail("width must be 1, 2 or 4")
		}
		cmd = c
	case "mt":
		if len(args) == 0 {
			cmd = MemoryTest{UseDefaults: true}
			break
		}
		cmd = MemoryTest{Start: p.address(), Length: p.length()}
	case "ub":
		c := UploadBinary{Address: p.address()}
		if p.err == nil && len(args) < 2 {
			p.fail("missing file")
		}
		c.File = restOf(line, 2)
		p.consumed = len(args)
		cmd = c
	case "ls":
		if len(args) == 0 {
			p.fail("missing file")
		}
		cmd = LoadScript{File: restOf(line, 1)}
		p.consumed = len(args)
	case "d":
		cmd = Disassemble{Address: p.address(), Length: p.length()}
	case "r":
		cmd = Run{Address: p.address()}
	case "g":
		cmd = Go{Address: p.address()}
	case "ue":
		cmd = UploadELF{}
	case "fw":
		cmd = FlashWrite{}
	case "?", "help":
		cmd = Help{}
	case "e", "exit":
		cmd = Exit{}
	default:
		return nil, &SyntaxError{Line: line, Msg: fmt.Sprintf("unknown command %q", name)}
	}
	if p.err == nil && p.consumed < len(args) {
		p.fail(fmt.Sprintf("unexpected %q", args[p.consumed]))
	}
	if p.err != nil {
		return nil, p.err
	}
	return cmd, nil
}

// ParseNumber reads a number written as 0x1F, $1F or 31.
func ParseNumber(s string) (uint64, error) {
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "$"):
		s, base = s[1:], 16
	}
	return strconv.ParseUint(s, base, 64)
}

const maxLength = 1<<31 - 1

type argParser struct {
	line     string
	args     []string
	consumed int
	err      *SyntaxError
}

func (p *argParser) fail(msg string) {
	if p.err == nil {
		p.err = &SyntaxError{Line: p.line, Msg: msg}
	}
}

func (p *argParser) next(what string, max uint64) uint64 {
	if p.err != nil {
		return 0
	}
	if p.consumed >= len(p.args) {
		p.fail("missing " + what)
		return 0
	}
	arg := p.args[p.consumed]
	p.consumed++
	v, err := ParseNumber(arg)
	if err != nil {
		p.fail(fmt.Sprintf("bad %s %q", what, arg))
		return 0
	}
	if v > max {
		p.fail(fmt.Sprintf("%s %s out of range", what, arg))
		return 0
	}
	return v
}

func (p *argParser) address() uint32 {
	return uint32(p.next("address", 1<<32-1))
}

func (p *argParser) value() uint32 {
	return uint32(p.next("value", 1<<32-1))
}

func (p *argParser) length() int {
	return int(p.next("length", maxLength))
}

func (p *argParser) count() int {
	return int(p.next("count", maxLength))
}

// restOf returns line with its first n fields removed.
func restOf(line string, n int) string {
	s := strings.TrimSpace(line)
	for i := 0; i < n && s != ""; i++ {
		end := strings.IndexAny(s, " \t")
		if end == -1 {
			return ""
		}
		s = strings.TrimLeft(s[end:], " \t")
	}
	return strings.TrimSpace(s)
}
