// Package audio defines the interfaces and types for microphone capture and
// playback within Lala.
//
// The two primary abstractions are:
//
//   - [Device] — opens the audio input device and returns a [Capture].
//   - [Capture] — an exclusive hold on the microphone, delivering raw PCM
//     frames until closed.
//
// Exactly one Capture may be open per Device at any time: the microphone is
// exclusively owned by whichever component currently holds it (the wake-word
// detector while idle-listening, the speech recognizer during a command turn).
// Ownership handoff is sequential — the previous holder must Close before the
// next holder calls Open.
//
// Implementations of these interfaces are provided by platform-specific
// adapter packages. The interfaces are intentionally narrow to keep the voice
// session decoupled from capture details.
package audio

import (
	"context"
	"time"
)

// Format describes the PCM stream delivered by a [Capture] or consumed by a
// [Sink]. Samples are 16-bit little-endian signed integers.
type Format struct {
	// SampleRate is the sample rate in Hz. 16000 is the STT-optimised default.
	SampleRate int

	// Channels is the number of interleaved channels. 1 = mono (required by
	// most recognition engines).
	Channels int
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Frame is a chunk of raw PCM audio read from the microphone.
type Frame struct {
	// PCM holds interleaved 16-bit little-endian samples.
	PCM []byte

	// Duration is the wall-clock length of the frame.
	Duration time.Duration
}

// Capture represents an exclusive, open hold on the audio input device.
//
// The Frames channel is closed when the capture ends — either because Close
// was called or because the device failed. After the channel closes, Err
// reports why.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// Frames returns the read-only channel delivering PCM frames as they are
	// read from the device. The channel is closed when the capture ends.
	Frames() <-chan Frame

	// Err returns the error that terminated the capture, or nil if the capture
	// is still running or was closed cleanly. Err must only be consulted after
	// the Frames channel has closed.
	Err() error

	// Close releases the device. It is idempotent and must return within a
	// bounded grace period even if a read is mid-flight.
	Close() error
}

// Device opens the audio input device.
//
// Open fails if the device is busy or access is denied. The returned Capture
// owns the device until Close is called.
type Device interface {
	Open(ctx context.Context, format Format) (Capture, error)
}

// Sink plays synthesized PCM audio.
//
// Play consumes chunks from pcm until the channel is closed or ctx is
// cancelled, then returns. Cancelling ctx is the stop mechanism: playback
// halts and buffered audio is discarded.
type Sink interface {
	Play(ctx context.Context, format Format, pcm <-chan []byte) error
}
