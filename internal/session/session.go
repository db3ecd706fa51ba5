// Package session is the state machine tying wake-word detection, speech
// recognition, command processing, and speech output into conversational
// turns.
//
// Exactly one state is active at a time and at most one turn runs at once:
// starting a turn while not idle fails with ErrSessionBusy, and wake-word
// detections arriving mid-turn are ignored. The microphone is handed off
// sequentially — the detector releases it before the recognizer acquires it,
// and gets it back when the turn ends. Any failure or cancellation resolves
// the session back to idle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lalavoice/lala/internal/recognize"
	"github.com/lalavoice/lala/internal/speaker"
	"github.com/lalavoice/lala/internal/wakeword"
)

// ErrSessionBusy is returned by BeginTurn while a turn is in progress.
var ErrSessionBusy = errors.New("session: turn already in progress")

// ErrNotStarted is returned by BeginTurn before Start.
var ErrNotStarted = errors.New("session: not started")

// State is the session's current phase.
type State string

const (
	// StateIdle means the detector is listening for the wake phrase.
	StateIdle State = "idle"

	// StateCapturing means a command is being recorded and transcribed.
	StateCapturing State = "capturing_command"

	// StateProcessing means the pipeline is computing a response.
	StateProcessing State = "processing"

	// StateSpeaking means the response is being played back.
	StateSpeaking State = "speaking"
)

// apologyLine is spoken when a capture fails in a way worth reporting.
const apologyLine = "Perdona, no te he entendido."

// Listener is the wake-word detector surface the session drives.
type Listener interface {
	Start(ctx context.Context, onDetected func(wakeword.Detection)) error
	Pause()
	Resume(ctx context.Context) error
	Stop() error
}

// Recognizer captures one spoken command.
type Recognizer interface {
	Capture(ctx context.Context) (recognize.Result, error)
}

// Responder turns command text into a response.
type Responder interface {
	Process(ctx context.Context, command string) string
}

// Voice plays response text aloud.
type Voice interface {
	Say(ctx context.Context, text string) (speaker.Utterance, error)
	Stop()
}

// Option configures a Session.
type Option func(*Session)

// WithStateHandler registers a callback invoked on every state change.
func WithStateHandler(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithApology controls whether capture failures are answered with a spoken
// apology. Enabled by default.
func WithApology(enabled bool) Option {
	return func(s *Session) { s.apologize = enabled }
}

// Session coordinates one conversational turn at a time.
type Session struct {
	listener   Listener
	recognizer Recognizer
	responder  Responder
	voice      Voice
	onState    func(State)
	apologize  bool
	log        *slog.Logger

	mu         sync.Mutex
	state      State
	runCtx     context.Context
	cancelRun  context.CancelFunc
	cancelTurn context.CancelFunc
	turnDone   chan struct{}

	wg sync.WaitGroup
}

// New creates a Session in the idle state.
func New(listener Listener, recognizer Recognizer, responder Responder, voice Voice, log *slog.Logger, opts ...Option) *Session {
	s := &Session{
		listener:   listener,
		recognizer: recognizer,
		responder:  responder,
		voice:      voice,
		apologize:  true,
		state:      StateIdle,
		log:        log.With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins idle listening. Detections trigger turns until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancelRun = cancel
	s.mu.Unlock()

	if err := s.listener.Start(runCtx, s.onDetection); err != nil {
		cancel()
		s.mu.Lock()
		s.runCtx = nil
		s.cancelRun = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stop cancels any active turn, stops the detector, and cuts off playback.
func (s *Session) Stop() {
	s.mu.Lock()
	cancelRun := s.cancelRun
	cancelTurn := s.cancelTurn
	s.mu.Unlock()

	if cancelTurn != nil {
		cancelTurn()
	}
	if cancelRun != nil {
		cancelRun()
	}
	s.wg.Wait()
	s.listener.Stop()
	s.voice.Stop()

	s.mu.Lock()
	s.runCtx = nil
	s.cancelRun = nil
	s.state = StateIdle
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginTurn starts a turn manually, as a UI trigger would. It fails with
// ErrSessionBusy unless the session is idle; the in-progress turn is never
// altered.
func (s *Session) BeginTurn() error {
	return s.beginTurn("")
}

// CancelTurn aborts the active turn, if any, and waits until the session is
// idle again with the audio device released.
func (s *Session) CancelTurn() {
	s.mu.Lock()
	cancel, done := s.cancelTurn, s.turnDone
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// onDetection handles a wake-word hit. Detections while busy are dropped.
func (s *Session) onDetection(det wakeword.Detection) {
	err := s.beginTurn(det.Command)
	if errors.Is(err, ErrSessionBusy) {
		s.log.Debug("wake word ignored, turn in progress")
	}
}

// beginTurn transitions Idle → CapturingCommand and schedules the turn.
// command, when non-empty, was spoken in the same utterance as the wake
// phrase and skips the capture phase.
func (s *Session) beginTurn(command string) error {
	s.mu.Lock()
	if s.runCtx == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	turnCtx, cancel := context.WithCancel(s.runCtx)
	done := make(chan struct{})
	s.state = StateCapturing
	s.cancelTurn = cancel
	s.turnDone = done
	s.mu.Unlock()

	s.notify(StateCapturing)
	s.wg.Add(1)
	go s.runTurn(turnCtx, command, done)
	return nil
}

// runTurn executes one full turn: capture, process, speak, back to idle.
func (s *Session) runTurn(ctx context.Context, command string, done chan struct{}) {
	defer s.wg.Done()
	defer s.endTurn(done)

	text := command
	if text == "" {
		// Sequential microphone handoff: the detector must release the
		// device before the recognizer opens it.
		s.listener.Pause()
		defer s.resumeListener()

		res, err := s.recognizer.Capture(ctx)
		if err != nil {
			s.captureFailed(ctx, err)
			return
		}
		text = res.Text
	}
	if text == "" {
		s.log.Debug("empty transcript, turn abandoned")
		return
	}

	if ctx.Err() != nil {
		return
	}
	s.setState(StateProcessing)
	response := s.responder.Process(ctx, text)

	if ctx.Err() != nil {
		return
	}
	s.setState(StateSpeaking)
	s.speak(ctx, response)
}

// captureFailed reports a capture failure and leaves the turn. Cancellation
// is silent; real failures get an optional spoken apology.
func (s *Session) captureFailed(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) {
		s.log.Debug("capture cancelled")
		return
	}
	s.log.Warn("capture failed", "error", err)
	if s.apologize && ctx.Err() == nil {
		s.setState(StateSpeaking)
		s.speak(ctx, apologyLine)
	}
}

// speak plays text and blocks until playback ends or the turn is cancelled.
func (s *Session) speak(ctx context.Context, text string) {
	u, err := s.voice.Say(ctx, text)
	if err != nil {
		s.log.Error("speech failed", "error", err)
		return
	}
	select {
	case <-u.Done:
	case <-ctx.Done():
		s.voice.Stop()
	}
}

func (s *Session) resumeListener() {
	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return
	}
	if err := s.listener.Resume(runCtx); err != nil {
		s.log.Error("detector resume failed", "error", err)
	}
}

// endTurn resolves the session back to idle on every turn exit path.
func (s *Session) endTurn(done chan struct{}) {
	s.mu.Lock()
	s.state = StateIdle
	if s.cancelTurn != nil {
		s.cancelTurn()
	}
	s.cancelTurn = nil
	s.turnDone = nil
	s.mu.Unlock()

	s.notify(StateIdle)
	close(done)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.notify(st)
}

func (s *Session) notify(st State) {
	if s.onState != nil {
		s.onState(st)
	}
}
