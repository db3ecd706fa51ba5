// Package mock provides in-memory mock implementations of the [audio.Device],
// [audio.Capture], and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and open/close balance, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	cap := mock.NewCapture(16)
//	dev := &mock.Device{Capture: cap}
//	cap.Feed(audio.Frame{PCM: pcm, Duration: 500 * time.Millisecond})
//	...
//	if dev.Leaked() {
//	    t.Error("capture left open")
//	}
package mock

import (
	"context"
	"sync"

	"github.com/lalavoice/lala/pkg/audio"
)

// ─── Capture ─────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Feed frames with
// [Capture.Feed]; terminate with [Capture.Fail] or [Capture.Close].
type Capture struct {
	mu sync.Mutex

	frames chan audio.Frame
	err    error
	closed bool

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewCapture creates a Capture whose frame channel has the given buffer depth.
func NewCapture(buf int) *Capture {
	return &Capture{frames: make(chan audio.Frame, buf)}
}

// Feed delivers a frame to the consumer. It panics if the capture has already
// ended, mirroring a send on a closed channel — tests should not feed after
// Close or Fail.
func (c *Capture) Feed(f audio.Frame) {
	c.frames <- f
}

// Fail terminates the capture with err, as a device read failure would.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.frames)
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.Frame { return c.frames }

// Err implements [audio.Capture].
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements [audio.Capture]. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.frames)
	return nil
}

// Closed reports whether the capture has ended.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

// ─── Device ──────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Device.Open] invocation.
type OpenCall struct {
	// Format is the format argument passed to Open.
	Format audio.Format
}

// Device is a mock implementation of [audio.Device].
// Set the exported fields before use; inspect the call records after.
type Device struct {
	mu sync.Mutex

	// Capture is returned by Open. If nil, Open returns a fresh
	// [Capture] with a buffer of 16 frames.
	Capture *Capture

	// OpenErr, if non-nil, is returned as the error from Open.
	OpenErr error

	// OpenCalls records every call to Open in order.
	OpenCalls []OpenCall

	// opened holds every Capture handed out, for leak checking.
	opened []*Capture
}

// Open implements [audio.Device].
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.Capture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{Format: format})
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := d.Capture
	if c == nil {
		c = NewCapture(16)
	}
	d.opened = append(d.opened, c)
	return c, nil
}

// Leaked reports whether any Capture handed out by Open has not been ended.
// Use this in tests to verify the resource-release contract: every exit path
// of a caller must close the capture it opened.
func (d *Device) Leaked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.opened {
		if !c.Closed() {
			return true
		}
	}
	return false
}

// Compile-time interface assertion.
var _ audio.Device = (*Device)(nil)

// ─── Sink ────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. It drains the PCM channel,
// recording everything played.
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play after draining the channel.
	PlayErr error

	// Played accumulates all PCM chunks consumed across Play calls.
	Played [][]byte

	// PlayCallCount is the number of times Play was called.
	PlayCallCount int
}

// Play implements [audio.Sink]. It consumes pcm until the channel closes or
// ctx is cancelled.
func (s *Sink) Play(ctx context.Context, format audio.Format, pcm <-chan []byte) error {
	s.mu.Lock()
	s.PlayCallCount++
	s.mu.Unlock()

	for {
		select {
		case chunk, ok := <-pcm:
			if !ok {
				s.mu.Lock()
				defer s.mu.Unlock()
				return s.PlayErr
			}
			s.mu.Lock()
			s.Played = append(s.Played, chunk)
			s.mu.Unlock()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Compile-time interface assertion.
var _ audio.Sink = (*Sink)(nil)
