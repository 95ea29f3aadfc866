// Package brscript reads text files of B-records, one record per line.
// Everything after a ';' is a comment; blank lines are ignored.
package brscript

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dragonball-hacks/vzboot/pkg/brecord"
)

const (
	CommentMarker = ';'
)

// Line is one record of a script together with where it came from.
type Line struct {
	Num    int
	Record brecord.Record
	Wire   []byte
}

type Script struct {
	name  string
	txt   string
	lines []Line
}

// Sender is the part of the transport engine needed to play a script.
type Sender interface {
	Send(ctx context.Context, record []byte) (byte, error)
}

func FromFile(path string) (*Script, error) {
	txt, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, string(txt))
}

// Parse reads a script from txt. name is only used in messages.
func Parse(name, txt string) (*Script, error) {
	s := &Script{name: name, txt: txt}
	if err := s.parse(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) String() string {
	return fmt.Sprintf("Script %s with %d records", s.name, s.NumRecords())
}

func (s *Script) Name() string {
	return s.name
}

func (s *Script) NumRecords() int {
	return len(s.lines)
}

func (s *Script) Lines() []Line {
	return s.lines
}

func (s *Script) parse() error {
	scanner := bufio.NewScanner(strings.NewReader(s.txt))
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if commentPos := strings.IndexByte(line, CommentMarker); commentPos != -1 {
			line = line[:commentPos]
		}
		line = strings.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		rec, err := brecord.Decode(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", s.name, lineNum, err)
		}
		wire, err := rec.Bytes()
		if err != nil {
			return fmt.Errorf("%s:%d: %w", s.name, lineNum, err)
		}
		s.lines = append(s.lines, Line{Num: lineNum, Record: rec, Wire: wire})
	}
	return scanner.Err()
}

// Run sends every record in order and stops at the first failure.
func (s *Script) Run(ctx context.Context, sender Sender) error {
	for _, l := range s.lines {
		log.Debugf("%s:%d: %v", s.name, l.Num, l.Record)
		if _, err := sender.Send(ctx, l.Wire); err != nil {
			return fmt.Errorf("%s:%d: %w", s.name, l.Num, err)
		}
	}
	return nil
}
