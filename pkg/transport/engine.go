// Package transport exchanges single B-records with the boot ROM.
//
// The boot ROM echoes every character it receives. An exchange writes one
// record, collects its echo and any bytes the executed code sends back, and
// can stream extra bytes into a routine that is already running on the
// board before the record's final byte goes out.
package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
)

// Unbounded tells Exchange not to wait for a response: the executed code
// never returns to the boot ROM, so only the record echo is collected.
const Unbounded = -1

// Config holds the exchange timings.
type Config struct {
	// PollInterval is the read timeout of a single poll.
	PollInterval time.Duration
	// Timeout is how long the board may stay silent before an exchange fails.
	Timeout time.Duration
	// InjectSettle is the pause between the echo and the first injected byte.
	InjectSettle time.Duration
	// InjectByteDelay is the pause after every injected byte.
	InjectByteDelay time.Duration
}

func defaultConfig() Config {
	return Config{
		PollInterval:    10 * time.Millisecond,
		Timeout:         5 * time.Second,
		InjectSettle:    2 * time.Second,
		InjectByteDelay: 50 * time.Millisecond,
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

// WithInjectTiming sets the settle pause and the per-byte delay used while
// injecting. Zero disables a pause.
func WithInjectTiming(settle, perByte time.Duration) Option {
	return func(c *Config) {
		if settle >= 0 {
			c.InjectSettle = settle
		}
		if perByte >= 0 {
			c.InjectByteDelay = perByte
		}
	}
}

type readTimeoutSetter interface {
	SetReadTimeout(time.Duration) error
}

// Engine is the single point through which records reach the link.
type Engine struct {
	rw  io.ReadWriter
	cfg Config
}

// New creates an engine on top of an open link. If rw supports read
// timeouts it is switched to the poll interval.
func New(rw io.ReadWriter, opts ...Option) (*Engine, error) {
	if rw == nil {
		return nil, fmt.Errorf("link cannot be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if s, ok := rw.(readTimeoutSetter); ok {
		if err := s.SetReadTimeout(cfg.PollInterval); err != nil {
			return nil, fmt.Errorf("cannot set poll interval: %w", err)
		}
	}
	return &Engine{rw: rw, cfg: cfg}, nil
}

// Send writes a record that expects no response and returns its status byte.
func (e *Engine) Send(ctx context.Context, record []byte) (byte, error) {
	return e.Exchange(ctx, record, 0, nil, nil)
}

// Exchange writes record and collects len(record)+extra bytes from the
// board. The first bytes are the echo of the record; the bytes that follow
// the first len(record)-1 of them are the response, and extra of those are
// copied to out.
//
// With a non-empty inject, the final byte of the record is held back until
// the echo of the rest has arrived; inject is then written byte by byte,
// followed by the held back byte.
//
// The returned status is the second to last byte received.
func (e *Engine) Exchange(ctx context.Context, record []byte, extra int, inject []byte, out []byte) (byte, error) {
	n := len(record)
	if n < 2 {
		return 0, fmt.Errorf("record too short: %d bytes", n)
	}
	if extra > 0 && len(out) < extra {
		return 0, fmt.Errorf("output buffer holds %d bytes, need %d", len(out), extra)
	}

	want := n + extra
	if extra == Unbounded {
		want = n - 1
	}
	log.Debugf("Exchange %q: expecting %d bytes, injecting %d", record, want, len(inject))

	first := record
	if len(inject) > 0 {
		first = record[:n-1]
	}
	if err := e.write("record", first); err != nil {
		return 0, err
	}

	buf := make([]byte, want)
	got := 0
	injected := len(inject) == 0
	deadline := time.Now().Add(e.cfg.Timeout)
	for got < want {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r, err := e.rw.Read(buf[got:])
		if err != nil {
			return 0, &LinkError{Op: "read", Err: err}
		}
		if r == 0 {
			if time.Now().After(deadline) {
				return 0, &TimeoutError{Received: got, Want: want}
			}
			continue
		}
		got += r
		deadline = time.Now().Add(e.cfg.Timeout)

		if !injected && got >= n-1 {
			if err := e.inject(ctx, inject, record[n-1]); err != nil {
				return 0, err
			}
			injected = true
			deadline = time.Now().Add(e.cfg.Timeout)
		}
	}

	if extra > 0 {
		copy(out[:extra], buf[n-1:n-1+extra])
	}
	var status byte
	if got >= 2 {
		status = buf[got-2]
	}
	return status, nil
}

// inject streams payload into the running routine, then completes the record.
func (e *Engine) inject(ctx context.Context, payload []byte, last byte) error {
	log.Debugf("Echo complete, injecting %d bytes", len(payload))
	if err := sleep(ctx, e.cfg.InjectSettle); err != nil {
		return err
	}
	for i := range payload {
		if err := e.write("inject", payload[i:i+1]); err != nil {
			return err
		}
		if err := sleep(ctx, e.cfg.InjectByteDelay); err != nil {
			return err
		}
	}
	return e.write("record tail", []byte{last})
}

func (e *Engine) write(op string, p []byte) error {
	w, err := e.rw.Write(p)
	if err != nil {
		return &LinkError{Op: op, Wrote: w, Want: len(p), Err: err}
	}
	if w != len(p) {
		return &LinkError{Op: op, Wrote: w, Want: len(p)}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
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
