// Package wakeword implements continuous wake-phrase detection on the shared
// microphone.
//
// The detector owns the audio device while the assistant is idle. It feeds
// fixed-size windows of captured PCM into the offline speech provider and
// phonetically matches every transcript against the configured phrase. On a
// hit the detection callback fires exactly once, then a debounce window
// suppresses retriggers on trailing audio.
//
// During a conversational turn the session pauses the detector, which
// releases the device before the recognizer opens it. The handoff is
// sequential: the microphone never has two owners.
package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lalavoice/lala/pkg/audio"
	"github.com/lalavoice/lala/pkg/provider/stt"
)

var (
	// ErrAlreadyRunning is returned by Start when the detector is running.
	ErrAlreadyRunning = errors.New("wakeword: already running")

	// ErrNoPhrase is returned by Start when no wake phrase is configured.
	ErrNoPhrase = errors.New("wakeword: no phrase configured")

	// ErrDeviceUnavailable wraps audio device open failures.
	ErrDeviceUnavailable = errors.New("wakeword: audio device unavailable")

	// ErrDetectionFailed is surfaced via Err after repeated consecutive
	// capture failures stop the loop.
	ErrDetectionFailed = errors.New("wakeword: detection failed")
)

const (
	defaultWindow          = 500 * time.Millisecond
	defaultDebounce        = time.Second
	defaultMaxReadFailures = 3
	stopGrace              = 500 * time.Millisecond
)

// Detection describes one wake-phrase hit.
type Detection struct {
	// Phrase is the configured phrase that matched.
	Phrase string

	// Command is the transcript text following the phrase, possibly empty.
	// "lala qué hora es" yields "qué hora es".
	Command string

	// Confidence is the phrase similarity score in (0, 1].
	Confidence float64

	// At is when the match was made.
	At time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithFormat sets the capture format. Default 16kHz mono.
func WithFormat(f audio.Format) Option {
	return func(d *Detector) { d.format = f }
}

// WithWindow sets the evaluation window size.
func WithWindow(w time.Duration) Option {
	return func(d *Detector) { d.window = w }
}

// WithDebounce sets the suppression window after a detection.
func WithDebounce(w time.Duration) Option {
	return func(d *Detector) { d.debounce = w }
}

// WithMaxReadFailures sets how many consecutive capture failures stop the
// loop.
func WithMaxReadFailures(n int) Option {
	return func(d *Detector) { d.maxReadFailures = n }
}

// WithThresholds overrides the phonetic and fuzzy match thresholds.
func WithThresholds(phonetic, fuzzy float64) Option {
	return func(d *Detector) { d.match = newMatcher(phonetic, fuzzy) }
}

// Detector runs the capture-evaluate loop.
type Detector struct {
	device          audio.Device
	provider        stt.Provider
	format          audio.Format
	window          time.Duration
	debounce        time.Duration
	maxReadFailures int
	match           *matcher
	log             *slog.Logger

	mu         sync.Mutex
	phrase     string
	running    bool
	paused     bool
	onDetected func(Detection)
	lastHit    time.Time
	runErr     error

	stopCh   chan struct{}
	doneCh   chan struct{}
	failCh   chan struct{}
	failOnce *sync.Once
	wg       sync.WaitGroup
	capture  audio.Capture
	session  stt.SessionHandle
}

// New creates a Detector listening for phrase. The provider should be the
// offline one so idle listening works without a network.
func New(device audio.Device, provider stt.Provider, phrase string, log *slog.Logger, opts ...Option) *Detector {
	d := &Detector{
		device:          device,
		provider:        provider,
		format:          audio.Format{SampleRate: 16000, Channels: 1},
		window:          defaultWindow,
		debounce:        defaultDebounce,
		maxReadFailures: defaultMaxReadFailures,
		match:           newMatcher(0, 0),
		log:             log.With("component", "wakeword"),
		phrase:          normalizePhrase(phrase),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Configure replaces the active phrase; it takes effect on the next
// evaluation cycle. An empty phrase is rejected and the previous one kept.
func (d *Detector) Configure(phrase string) {
	p := normalizePhrase(phrase)
	if p == "" {
		d.log.Warn("ignoring empty wake phrase")
		return
	}
	d.mu.Lock()
	d.phrase = p
	d.mu.Unlock()
}

// Phrase returns the active (normalized) wake phrase.
func (d *Detector) Phrase() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phrase
}

func normalizePhrase(phrase string) string {
	return strings.ToLower(strings.TrimSpace(phrase))
}

// Start begins the capture-evaluate loop. onDetected is invoked from the
// detector's goroutine; it must not block for long.
func (d *Detector) Start(ctx context.Context, onDetected func(Detection)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}
	if d.phrase == "" {
		return ErrNoPhrase
	}

	d.onDetected = onDetected
	d.runErr = nil
	d.failCh = make(chan struct{})
	d.failOnce = &sync.Once{}
	if err := d.beginLocked(ctx); err != nil {
		return err
	}
	d.running = true
	d.paused = false
	d.log.Info("wake-word detection started", "phrase", d.phrase)
	return nil
}

// beginLocked opens the device and provider stream and spawns the loop
// goroutines. Caller holds d.mu.
func (d *Detector) beginLocked(ctx context.Context) error {
	capture, err := d.device.Open(ctx, d.format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	session, err := d.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: d.format.SampleRate,
		Channels:   d.format.Channels,
	})
	if err != nil {
		capture.Close()
		return fmt.Errorf("wakeword: start stream: %w", err)
	}

	d.capture = capture
	d.session = session
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	d.wg.Add(2)
	go d.feedLoop(ctx, capture, session)
	go d.matchLoop(session)
	go func() {
		d.wg.Wait()
		close(d.doneCh)
	}()
	return nil
}

// feedLoop accumulates capture frames into fixed windows and pushes them to
// the provider. A capture failure is logged and the device reopened; after
// maxReadFailures consecutive failures the loop stops and Err reports
// ErrDetectionFailed.
func (d *Detector) feedLoop(ctx context.Context, capture audio.Capture, session stt.SessionHandle) {
	defer d.wg.Done()

	windowBytes := int(int64(d.format.BytesPerSecond()) * int64(d.window) / int64(time.Second))
	if windowBytes <= 0 {
		windowBytes = 1
	}
	var buf []byte
	failures := 0

	for {
	read:
		for {
			select {
			case <-d.stopCh:
				return
			case frame, ok := <-capture.Frames():
				if !ok {
					break read
				}
				failures = 0
				buf = append(buf, frame.PCM...)
				for len(buf) >= windowBytes {
					if err := session.SendAudio(buf[:windowBytes]); err != nil {
						d.log.Warn("send window failed", "error", err)
					}
					buf = buf[windowBytes:]
				}
			}
		}

		readErr := capture.Err()
		failures++
		d.log.Warn("capture interrupted", "error", readErr, "consecutive_failures", failures)
		if failures >= d.maxReadFailures {
			d.fail(fmt.Errorf("%w: %w", ErrDetectionFailed, readErr))
			return
		}

		select {
		case <-d.stopCh:
			return
		default:
		}
		next, err := d.device.Open(ctx, d.format)
		if err != nil {
			failures++
			d.log.Warn("device reopen failed", "error", err, "consecutive_failures", failures)
			if failures >= d.maxReadFailures {
				d.fail(fmt.Errorf("%w: %w", ErrDetectionFailed, err))
				return
			}
			continue
		}
		d.mu.Lock()
		d.capture = next
		d.mu.Unlock()
		capture = next
	}
}

// matchLoop evaluates every transcript emitted by the provider.
func (d *Detector) matchLoop(session stt.SessionHandle) {
	defer d.wg.Done()

	partials := session.Partials()
	finals := session.Finals()
	for {
		if partials == nil && finals == nil {
			return
		}
		var t stt.Transcript
		var ok bool
		select {
		case <-d.stopCh:
			return
		case t, ok = <-partials:
			if !ok {
				partials = nil
				continue
			}
		case t, ok = <-finals:
			if !ok {
				finals = nil
				continue
			}
		}
		d.evaluate(t.Text)
	}
}

func (d *Detector) evaluate(text string) {
	d.mu.Lock()
	phrase := d.phrase
	d.mu.Unlock()

	command, confidence, ok := d.match.match(text, phrase)
	if !ok {
		return
	}

	d.mu.Lock()
	if !d.lastHit.IsZero() && time.Since(d.lastHit) < d.debounce {
		d.mu.Unlock()
		return
	}
	d.lastHit = time.Now()
	cb := d.onDetected
	d.mu.Unlock()

	d.log.Info("wake phrase detected", "confidence", confidence, "command", command)
	if cb != nil {
		cb(Detection{Phrase: phrase, Command: command, Confidence: confidence, At: time.Now()})
	}
}

// fail records a terminal loop error and releases resources.
func (d *Detector) fail(err error) {
	d.mu.Lock()
	d.runErr = err
	capture, session := d.capture, d.session
	failOnce, failCh := d.failOnce, d.failCh
	d.mu.Unlock()

	d.log.Error("detection loop stopped", "error", err)
	if capture != nil {
		capture.Close()
	}
	if session != nil {
		session.Close()
	}
	if failOnce != nil {
		failOnce.Do(func() { close(failCh) })
	}
}

// Pause releases the audio device and provider stream so the recognizer can
// take the microphone. Idempotent; no-op when not running.
func (d *Detector) Pause() {
	d.mu.Lock()
	if !d.running || d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = true
	d.mu.Unlock()

	d.teardown()
	d.log.Debug("wake-word detection paused")
}

// Resume reopens the device and restarts the loop after a Pause.
func (d *Detector) Resume(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || !d.paused {
		return nil
	}
	if err := d.beginLocked(ctx); err != nil {
		return err
	}
	d.paused = false
	d.log.Debug("wake-word detection resumed")
	return nil
}

// Stop terminates the loop and releases the audio source and provider
// stream. Idempotent; completes within a bounded grace period.
func (d *Detector) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	wasPaused := d.paused
	d.paused = false
	d.mu.Unlock()

	if !wasPaused {
		d.teardown()
	}
	d.log.Info("wake-word detection stopped")
	return nil
}

// teardown stops the goroutines and closes resources. Waits at most
// stopGrace for the loops to drain; resources are released regardless.
func (d *Detector) teardown() {
	d.mu.Lock()
	stopCh, doneCh := d.stopCh, d.doneCh
	capture, session := d.capture, d.session
	d.capture, d.session = nil, nil
	d.mu.Unlock()

	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	if doneCh != nil {
		select {
		case <-doneCh:
		case <-time.After(stopGrace):
			d.log.Warn("detection loop did not drain within grace period")
		}
	}
	if capture != nil {
		capture.Close()
	}
	if session != nil {
		session.Close()
	}
}

// Failed is closed when the loop stops on its own after repeated capture
// failures. Err then reports the cause.
func (d *Detector) Failed() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failCh
}

// Err returns the terminal loop error, if any.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.runErr
}
