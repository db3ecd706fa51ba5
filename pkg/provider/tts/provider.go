// Package tts defines the contract for text-to-speech providers.
//
// A Provider renders a single utterance of text into raw 16-bit little-endian
// PCM, delivered as a stream of chunks so playback can begin before synthesis
// finishes. The stream's format is fixed per provider.
package tts

import (
	"context"
	"errors"

	"github.com/lalavoice/lala/pkg/audio"
)

// ErrUnavailable reports that the synthesis backend could not be reached.
var ErrUnavailable = errors.New("tts: backend unavailable")

// Provider converts text into spoken audio.
type Provider interface {
	// ID returns a short stable identifier such as "coqui".
	ID() string

	// Format describes the PCM emitted by Synthesize. It does not vary
	// between calls.
	Format() audio.Format

	// Synthesize renders text and returns a channel of raw PCM chunks.
	// The channel is closed when the utterance is complete or ctx is
	// cancelled. Errors occurring after the channel is returned terminate
	// the stream early; callers that need to distinguish truncation can
	// check ctx.Err().
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}
