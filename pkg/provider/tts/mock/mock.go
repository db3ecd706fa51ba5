// Package mock provides a test double for tts.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/lalavoice/lala/pkg/audio"
	"github.com/lalavoice/lala/pkg/provider/tts"
)

// Provider is a configurable tts.Provider for tests.
type Provider struct {
	mu sync.Mutex

	// ProviderID is returned by ID. Defaults to "mock-tts".
	ProviderID string

	// PCM is the audio emitted for every utterance, split into Chunks
	// pieces (default 1).
	PCM    []byte
	Chunks int

	// SynthesizeErr, when set, is returned by Synthesize.
	SynthesizeErr error

	// BlockUntil, when set, delays chunk emission until the channel is
	// closed. Lets tests interrupt playback mid-utterance.
	BlockUntil chan struct{}

	// Spoken records every text passed to Synthesize.
	Spoken []string
}

var _ tts.Provider = (*Provider)(nil)

// ID implements tts.Provider.
func (p *Provider) ID() string {
	if p.ProviderID == "" {
		return "mock-tts"
	}
	return p.ProviderID
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: 16000, Channels: 1}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	p.mu.Lock()
	p.Spoken = append(p.Spoken, text)
	err := p.SynthesizeErr
	pcm := p.PCM
	chunks := p.Chunks
	block := p.BlockUntil
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if chunks <= 0 {
		chunks = 1
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		if block != nil {
			select {
			case <-block:
			case <-ctx.Done():
				return
			}
		}
		if len(pcm) == 0 {
			return
		}
		size := (len(pcm) + chunks - 1) / chunks
		for off := 0; off < len(pcm); off += size {
			end := off + size
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case out <- pcm[off:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SpokenTexts returns a copy of all synthesized texts.
func (p *Provider) SpokenTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Spoken...)
}
