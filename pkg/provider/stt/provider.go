// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider wraps a transcription engine (a local whisper.cpp model or
// a remote streaming API such as Deepgram) and exposes a uniform streaming
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio frames and emits two streams of Transcript values —
// low-latency partials for UI feedback and authoritative finals that carry the
// returned command text.
//
// Partials are never treated as final: only a terminal event from the Finals
// channel yields the text a caller may act on.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrModelUnavailable is returned by offline providers when the local
// recognition model is missing or failed to load.
var ErrModelUnavailable = errors.New("stt: recognition model unavailable")

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. 16000 is the STT-optimised
	// default for on-device capture.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT engines). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "es", "en-US").
	// An empty string uses the provider's configured default.
	Language string
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// engine.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines, model contexts, and network connections inside the
// provider implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM audio bytes
	// to the provider for transcription. The chunk must match the SampleRate
	// and Channels agreed in StreamConfig. Calling SendAudio after Close
	// returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. These are
	// suitable for driving UI indicators but must never be acted on as the
	// final command text. The channel is closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. The
	// channel is closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials and Finals
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// ID identifies the provider in transcription results and logs
	// (e.g., "whisper-native", "deepgram").
	ID() string

	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Offline providers load their model lazily on the first call; a load
	// failure is reported as an error wrapping [ErrModelUnavailable]. The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
