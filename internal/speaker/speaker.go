// Package speaker turns response text into audible speech.
//
// One utterance plays at a time. Starting a new utterance flushes the one in
// progress, so a barge-in or a follow-up command never queues behind stale
// audio. Every utterance gets a unique ID, and an optional event handler
// reports how it ended: completed, interrupted, or failed.
package speaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lalavoice/lala/internal/observe"
	"github.com/lalavoice/lala/pkg/audio"
	"github.com/lalavoice/lala/pkg/provider/tts"
)

// ErrClosed is returned by Say after Close.
var ErrClosed = errors.New("speaker: closed")

// Event reports the outcome of one utterance.
type Event struct {
	// UtteranceID identifies the utterance.
	UtteranceID string

	// Text is the text that was being spoken.
	Text string

	// Err is non-nil when synthesis or playback failed. Interruption is not
	// a failure.
	Err error

	// Interrupted is true when the utterance was cut off by Stop, Close, or
	// a newer Say.
	Interrupted bool
}

// Utterance is a handle to an in-progress utterance.
type Utterance struct {
	// ID identifies the utterance in events.
	ID string

	// Done is closed when playback ends for any reason.
	Done <-chan struct{}
}

// Option configures a Speaker.
type Option func(*Speaker)

// WithEventHandler registers a callback invoked once per utterance when it
// ends. The callback runs on the playback goroutine; keep it short.
func WithEventHandler(fn func(Event)) Option {
	return func(s *Speaker) { s.onEvent = fn }
}

// WithMetrics enables synthesis request and error counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// Speaker plays synthesized speech through an audio sink. Safe for
// concurrent use.
type Speaker struct {
	provider tts.Provider
	sink     audio.Sink
	onEvent  func(Event)
	metrics  *observe.Metrics
	log      *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	currentID string
	done      chan struct{}
	closed    bool
}

// New creates a Speaker.
func New(provider tts.Provider, sink audio.Sink, log *slog.Logger, opts ...Option) *Speaker {
	s := &Speaker{
		provider: provider,
		sink:     sink,
		log:      log.With("component", "speaker"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Say speaks text asynchronously, flushing any utterance already in
// progress. The returned handle's Done channel closes when playback ends.
func (s *Speaker) Say(ctx context.Context, text string) (Utterance, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Utterance{}, ErrClosed
	}
	prevCancel, prevDone := s.cancel, s.done

	id := uuid.NewString()
	uctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.currentID, s.done = cancel, id, done
	s.mu.Unlock()

	// Flush: the previous utterance must fully stop before the new one
	// starts, or the two would contend for the sink.
	if prevCancel != nil {
		prevCancel()
	}
	if prevDone != nil {
		<-prevDone
	}

	go s.run(uctx, id, text, done)
	return Utterance{ID: id, Done: done}, nil
}

// Stop cuts off the current utterance, if any, and waits for it to end.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Speaking reports whether an utterance is in progress.
func (s *Speaker) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID != ""
}

// Close stops playback and rejects further Say calls.
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
	return nil
}

func (s *Speaker) run(ctx context.Context, id, text string, done chan struct{}) {
	defer close(done)
	defer s.clear(id)

	chunks, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		s.log.Error("synthesis failed", "utterance_id", id, "error", err)
		if s.metrics != nil {
			s.metrics.RecordProviderRequest(ctx, s.provider.ID(), "tts", "error")
			s.metrics.RecordProviderError(ctx, s.provider.ID(), "tts")
		}
		s.emit(Event{UtteranceID: id, Text: text, Err: err})
		return
	}
	if s.metrics != nil {
		s.metrics.RecordProviderRequest(ctx, s.provider.ID(), "tts", "ok")
	}

	err = s.sink.Play(ctx, s.provider.Format(), chunks)
	interrupted := ctx.Err() != nil
	if interrupted {
		s.log.Debug("utterance interrupted", "utterance_id", id)
		s.emit(Event{UtteranceID: id, Text: text, Interrupted: true})
		return
	}
	if err != nil {
		s.log.Error("playback failed", "utterance_id", id, "error", err)
	}
	s.emit(Event{UtteranceID: id, Text: text, Err: err})
}

// clear resets the current-utterance state unless a newer Say replaced it.
func (s *Speaker) clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentID == id {
		s.cancel = nil
		s.currentID = ""
		s.done = nil
	}
}

func (s *Speaker) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}
