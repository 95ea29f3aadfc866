// Package link owns the serial connection to the board and brings it from
// the boot ROM's reset state up to the operating baud rate.
package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// Probe wakes up the boot ROM after reset.
	Probe byte = '.'
	// Ready is what the boot ROM answers once it accepts records.
	Ready byte = '@'
)

var (
	ErrHandshakeTimeout = errors.New("board did not answer in time")
	ErrShortWrite       = errors.New("short write to link")
)

// Step is one baud step-up: a fixed record that programs the board UART
// divider, and the rate to switch the host side to afterwards.
type Step struct {
	Baud   int
	Record string
}

// Config holds the link timings.
type Config struct {
	// PollInterval is the read timeout used while waiting for bytes.
	PollInterval time.Duration
	// Timeout bounds every wait for an answer from the board.
	Timeout time.Duration
	// Settle is how long the board needs to apply a new baud rate.
	Settle time.Duration
}

func defaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		Timeout:      30 * time.Second,
		Settle:       time.Second,
	}
}

type Option func(*Config)

func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.PollInterval = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithSettle sets the delay between a step-up record and the local baud
// change. Zero is allowed.
func WithSettle(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.Settle = d
		}
	}
}

// Manager runs the post-reset handshake and the baud step-ups.
type Manager struct {
	port Port
	cfg  Config
	baud int
}

// NewManager takes ownership of port, which must be open at InitialBaud.
func NewManager(port Port, opts ...Option) (*Manager, error) {
	if port == nil {
		return nil, fmt.Errorf("port cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := port.SetReadTimeout(cfg.PollInterval); err != nil {
		return nil, fmt.Errorf("cannot set read timeout: %w", err)
	}
	return &Manager{port: port, cfg: cfg, baud: InitialBaud}, nil
}

// Port returns the managed connection for other components to borrow.
func (m *Manager) Port() Port {
	return m.port
}

// Baud returns the rate the host side is currently configured for.
func (m *Manager) Baud() int {
	return m.baud
}

// Close closes the connection.
func (m *Manager) Close() error {
	return m.port.Close()
}

// Connect runs the handshake followed by every step-up in order.
func (m *Manager) Connect(ctx context.Context, steps []Step) error {
	if err := m.Handshake(ctx); err != nil {
		return err
	}
	for _, step := range steps {
		if err := m.StepUp(ctx, step); err != nil {
			return err
		}
	}
	log.Printf("Link ready at %d baud", m.baud)
	return nil
}

// Handshake sends the probe and waits for the boot ROM ready marker.
func (m *Manager) Handshake(ctx context.Context) error {
	log.Println("Starting boot ROM handshake")
	if err := m.write([]byte{Probe}); err != nil {
		return fmt.Errorf("cannot send probe: %w", err)
	}
	if err := m.readUntil(ctx, Ready); err != nil {
		return fmt.Errorf("waiting for ready marker %q: %w", Ready, err)
	}
	log.Printf("Got %q from boot ROM", Ready)
	return nil
}

// StepUp asks the board to switch to step.Baud, follows it locally and
// checks that a newline makes the round trip at the new rate.
func (m *Manager) StepUp(ctx context.Context, step Step) error {
	log.Printf("Stepping link up to %d baud", step.Baud)
	// The boot ROM takes the record without a line feed; the trailing NUL
	// pushes it through at the old rate.
	cmd := append([]byte(step.Record), 0)
	if err := m.write(cmd); err != nil {
		return fmt.Errorf("cannot send step-up record %s: %w", step.Record, err)
	}
	if err := sleepCtx(ctx, m.cfg.Settle); err != nil {
		return err
	}
	if err := m.port.SetBaud(step.Baud); err != nil {
		return err
	}
	m.baud = step.Baud
	if err := m.write([]byte{'\n'}); err != nil {
		return fmt.Errorf("cannot send sync newline: %w", err)
	}
	if err := m.readUntil(ctx, '\n'); err != nil {
		return fmt.Errorf("no sync at %d baud: %w", step.Baud, err)
	}
	return nil
}

func (m *Manager) write(p []byte) error {
	n, err := m.port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(p))
	}
	return nil
}

// readUntil discards bytes until want arrives. The deadline restarts after
// every received byte.
func (m *Manager) readUntil(ctx context.Context, want byte) error {
	buf := make([]byte, 1)
	deadline := time.Now().Add(m.cfg.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := m.port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return ErrHandshakeTimeout
			}
			continue
		}
		if buf[0] == want {
			return nil
		}
		log.Debugf("Link: skipping %q", buf[0])
		deadline = time.Now().Add(m.cfg.Timeout)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
