// Package alsa provides microphone capture and playback through the ALSA
// command-line tools (arecord / aplay).
//
// Running the tools as child processes keeps the binary free of CGo and audio
// library pins; any machine with alsa-utils installed can run the assistant.
// The capture child is killed on Close, which bounds teardown even when a
// read is mid-flight.
package alsa

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/lalavoice/lala/pkg/audio"
)

const (
	defaultRecordBinary = "arecord"
	defaultPlayBinary   = "aplay"
	defaultFrameMs      = 20
)

// Compile-time interface assertions.
var _ audio.Device = (*Device)(nil)
var _ audio.Sink = (*Sink)(nil)

// DeviceOption configures a [Device].
type DeviceOption func(*Device)

// WithRecordBinary overrides the capture executable, for tests.
func WithRecordBinary(path string) DeviceOption {
	return func(d *Device) { d.binary = path }
}

// WithPCMName selects an ALSA PCM by name (arecord -D). Empty uses the
// system default.
func WithPCMName(name string) DeviceOption {
	return func(d *Device) { d.pcmName = name }
}

// WithFrameDuration sets the duration of each delivered frame.
func WithFrameDuration(dur time.Duration) DeviceOption {
	return func(d *Device) { d.frameDur = dur }
}

// Device opens the microphone by spawning the capture tool.
type Device struct {
	binary   string
	pcmName  string
	frameDur time.Duration
	log      *slog.Logger
}

// NewDevice creates a Device reading from the default ALSA input.
func NewDevice(log *slog.Logger, opts ...DeviceOption) *Device {
	d := &Device{
		binary:   defaultRecordBinary,
		frameDur: defaultFrameMs * time.Millisecond,
		log:      log.With("component", "alsa"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open spawns the capture child and starts delivering frames.
func (d *Device) Open(ctx context.Context, format audio.Format) (audio.Capture, error) {
	args := pcmArgs(format)
	if d.pcmName != "" {
		args = append(args, "-D", d.pcmName)
	}

	cmd := exec.Command(d.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("alsa: capture pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("alsa: start %s: %w", d.binary, err)
	}

	frameBytes := format.BytesPerSecond() * int(d.frameDur.Milliseconds()) / 1000
	if frameBytes <= 0 {
		frameBytes = 2
	}

	c := &capture{
		cmd:      cmd,
		stdout:   stdout,
		frames:   make(chan audio.Frame),
		frameDur: d.frameDur,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.readLoop(frameBytes)

	// The capture outlives ctx only until Close; cancelling ctx releases the
	// device too.
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.Close()
			case <-c.done:
			}
		}()
	}

	d.log.Debug("capture opened", "rate", format.SampleRate, "channels", format.Channels)
	return c, nil
}

// pcmArgs builds the raw 16-bit little-endian stream arguments shared by
// arecord and aplay.
func pcmArgs(format audio.Format) []string {
	return []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(format.SampleRate),
		"-c", strconv.Itoa(format.Channels),
	}
}

// capture owns one running capture child.
type capture struct {
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	frames   chan audio.Frame
	frameDur time.Duration
	stop     chan struct{}
	done     chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func (c *capture) Frames() <-chan audio.Frame { return c.frames }

func (c *capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close kills the capture child and waits for the read loop to drain.
// Idempotent.
func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.stop)
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		<-c.done
	})
	return nil
}

func (c *capture) readLoop(frameBytes int) {
	defer close(c.done)
	defer close(c.frames)

	buf := make([]byte, frameBytes)
read:
	for {
		if _, err := io.ReadFull(c.stdout, buf); err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = fmt.Errorf("alsa: capture read: %w", err)
			}
			c.mu.Unlock()
			break
		}
		pcm := make([]byte, len(buf))
		copy(pcm, buf)

		select {
		case c.frames <- audio.Frame{PCM: pcm, Duration: c.frameDur}:
		case <-c.stop:
			_ = c.stdout.Close()
			break read
		}
	}
	_ = c.cmd.Wait()
}

// SinkOption configures a [Sink].
type SinkOption func(*Sink)

// WithPlayBinary overrides the playback executable, for tests.
func WithPlayBinary(path string) SinkOption {
	return func(s *Sink) { s.binary = path }
}

// WithSinkPCMName selects an ALSA PCM by name (aplay -D).
func WithSinkPCMName(name string) SinkOption {
	return func(s *Sink) { s.pcmName = name }
}

// Sink plays PCM by piping it into the playback tool.
type Sink struct {
	binary  string
	pcmName string
	log     *slog.Logger
}

// NewSink creates a Sink writing to the default ALSA output.
func NewSink(log *slog.Logger, opts ...SinkOption) *Sink {
	s := &Sink{
		binary: defaultPlayBinary,
		log:    log.With("component", "alsa"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Play spawns the playback child and feeds it chunks until pcm closes or ctx
// is cancelled. Cancellation kills the child, discarding buffered audio.
func (s *Sink) Play(ctx context.Context, format audio.Format, pcm <-chan []byte) error {
	args := pcmArgs(format)
	if s.pcmName != "" {
		args = append(args, "-D", s.pcmName)
	}

	cmd := exec.CommandContext(ctx, s.binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("alsa: playback pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("alsa: start %s: %w", s.binary, err)
	}

	var writeErr error
feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case chunk, ok := <-pcm:
			if !ok {
				break feed
			}
			if _, err := stdin.Write(chunk); err != nil {
				writeErr = err
				break feed
			}
		}
	}
	stdin.Close()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		// Interrupted playback is not a failure.
		return nil
	}
	if writeErr != nil {
		return fmt.Errorf("alsa: playback write: %w", writeErr)
	}
	if waitErr != nil {
		return fmt.Errorf("alsa: %s: %w", s.binary, waitErr)
	}
	return nil
}
