// Package recognize captures one spoken command and turns it into text.
//
// Provider selection: the online provider is used when the network is
// reachable and the user has not preferred offline; otherwise the offline
// provider. The fallback is directional — a transient online failure may fall
// back to offline, never the reverse, so an offline preference is always
// honored. A circuit breaker around the online path skips it entirely after
// repeated failures instead of paying the network timeout every turn.
//
// The whole capture, including provider selection and network round-trip, is
// bounded by one deadline. On expiry every resource (audio capture, provider
// session, in-flight request) is released before the failure is surfaced.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lalavoice/lala/internal/netcheck"
	"github.com/lalavoice/lala/internal/observe"
	"github.com/lalavoice/lala/internal/resilience"
	"github.com/lalavoice/lala/pkg/audio"
	"github.com/lalavoice/lala/pkg/provider/stt"
)

var (
	// ErrTimeout is returned when no terminal transcript arrives within the
	// configured deadline.
	ErrTimeout = errors.New("recognize: capture deadline exceeded")

	// ErrUnavailable is returned when no usable provider remains.
	ErrUnavailable = errors.New("recognize: recognition unavailable")

	// ErrDeviceUnavailable wraps audio device open failures.
	ErrDeviceUnavailable = errors.New("recognize: audio device unavailable")
)

const defaultDeadline = 10 * time.Second

// Result is the outcome of one capture.
type Result struct {
	// Text is the recognized command. Empty when the provider ended the
	// stream without a final transcript.
	Text string

	// Confidence is the provider-reported confidence in [0, 1].
	Confidence float64

	// ProviderID names the provider that produced the text.
	ProviderID string
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithDeadline bounds each Capture call. Default 10s.
func WithDeadline(d time.Duration) Option {
	return func(r *Recognizer) { r.deadline = d }
}

// WithPreferOffline forces the offline provider regardless of connectivity.
func WithPreferOffline(prefer bool) Option {
	return func(r *Recognizer) { r.preferOffline.Store(prefer) }
}

// WithFormat sets the capture format. Default 16kHz mono.
func WithFormat(f audio.Format) Option {
	return func(r *Recognizer) { r.format = f }
}

// WithLanguage sets the recognition language tag.
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithPartialHandler registers a callback for interim hypotheses. Partials
// drive UI feedback only; they are never the returned text.
func WithPartialHandler(fn func(stt.Transcript)) Option {
	return func(r *Recognizer) { r.onPartial = fn }
}

// WithBreaker replaces the default online-path circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Recognizer) { r.breaker = b }
}

// WithMetrics enables per-provider request and error counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recognizer) { r.metrics = m }
}

// Recognizer selects a provider per policy and runs bounded captures.
// Safe for concurrent use, though the session serializes turns above it.
type Recognizer struct {
	device        audio.Device
	offline       stt.Provider
	online        stt.Provider
	net           *netcheck.Checker
	breaker       *resilience.Breaker
	deadline      time.Duration
	preferOffline atomic.Bool
	format        audio.Format
	language      string
	onPartial     func(stt.Transcript)
	metrics       *observe.Metrics
	log           *slog.Logger
}

// New creates a Recognizer. online may be nil when no online provider is
// configured; captures then always run offline.
func New(device audio.Device, offline, online stt.Provider, net *netcheck.Checker, log *slog.Logger, opts ...Option) *Recognizer {
	r := &Recognizer{
		device:   device,
		offline:  offline,
		online:   online,
		net:      net,
		deadline: defaultDeadline,
		format:   audio.Format{SampleRate: 16000, Channels: 1},
		language: "es",
		log:      log.With("component", "recognize"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = resilience.New(resilience.Config{Name: "online-stt"}, log)
	}
	return r
}

// Capture records one command and returns its transcript. It blocks until a
// final transcript arrives, the stream ends, or the deadline expires.
func (r *Recognizer) Capture(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.deadline)
	defer cancel()

	if r.useOnline(ctx) {
		var res Result
		err := r.breaker.Execute(func() error {
			var inner error
			res, inner = r.captureWith(ctx, r.online)
			return inner
		})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrTimeout) || errors.Is(err, ErrDeviceUnavailable) {
			return Result{}, err
		}
		// Transient online failure: connectivity may have just dropped.
		r.net.Invalidate()
		r.log.Warn("online recognition failed, falling back to offline",
			"provider", r.online.ID(), "error", err)
		return r.captureOffline(ctx)
	}
	return r.captureOffline(ctx)
}

func (r *Recognizer) useOnline(ctx context.Context) bool {
	if r.preferOffline.Load() || r.online == nil {
		return false
	}
	return r.net.Available(ctx)
}

// SetPreferOffline toggles the offline preference at runtime. It takes effect
// on the next capture.
func (r *Recognizer) SetPreferOffline(prefer bool) {
	r.preferOffline.Store(prefer)
}

// captureOffline runs the offline provider. A model load failure surfaces as
// ErrUnavailable; the offline preference is never silently escalated online.
func (r *Recognizer) captureOffline(ctx context.Context) (Result, error) {
	res, err := r.captureWith(ctx, r.offline)
	if errors.Is(err, stt.ErrModelUnavailable) {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return res, err
}

// recordOutcome bumps the per-provider request and error counters.
func (r *Recognizer) recordOutcome(ctx context.Context, providerID string, err error) {
	if r.metrics == nil {
		return
	}
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, providerID, "stt", "error")
		r.metrics.RecordProviderError(ctx, providerID, "stt")
		return
	}
	r.metrics.RecordProviderRequest(ctx, providerID, "stt", "ok")
}

// captureWith opens the device and a provider session and waits for the
// first final transcript. All resources are released before it returns.
func (r *Recognizer) captureWith(ctx context.Context, provider stt.Provider) (res Result, err error) {
	defer func() { r.recordOutcome(ctx, provider.ID(), err) }()

	capture, err := r.device.Open(ctx, r.format)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	defer capture.Close()

	session, err := provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: r.format.SampleRate,
		Channels:   r.format.Channels,
		Language:   r.language,
	})
	if err != nil {
		return Result{}, fmt.Errorf("recognize: start stream (%s): %w", provider.ID(), err)
	}
	defer session.Close()

	feedDone := make(chan struct{})
	defer close(feedDone)
	go feed(capture, session, feedDone)

	partials := session.Partials()
	finals := session.Finals()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Result{}, ErrTimeout
			}
			return Result{}, ctx.Err()
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if r.onPartial != nil {
				r.onPartial(t)
			}
		case t, ok := <-finals:
			if !ok {
				// Stream ended without a final: empty text, not an error.
				return Result{ProviderID: provider.ID()}, nil
			}
			if t.Text == "" {
				// Silence produces empty finals; keep waiting for speech.
				continue
			}
			return Result{Text: t.Text, Confidence: t.Confidence, ProviderID: t.ProviderID}, nil
		}
	}
}

// feed pushes capture frames into the session until either side ends.
func feed(capture audio.Capture, session stt.SessionHandle, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case frame, ok := <-capture.Frames():
			if !ok {
				return
			}
			if err := session.SendAudio(frame.PCM); err != nil {
				return
			}
		}
	}
}
