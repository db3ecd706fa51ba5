// Package coqui implements text-to-speech against a Coqui TTS server.
//
// The server's standard HTTP API (GET /api/tts) returns a complete WAV file
// per request. The provider strips the RIFF container, downmixes to mono,
// resamples to a fixed output rate and emits the PCM in playback-sized
// chunks.
package coqui

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lalavoice/lala/pkg/audio"
	"github.com/lalavoice/lala/pkg/provider/tts"
)

const (
	providerID = "coqui"

	defaultTimeout    = 30 * time.Second
	defaultLanguage   = "es"
	defaultOutputRate = 22050

	// pcmChunkSize is the size of each emitted PCM chunk in bytes.
	pcmChunkSize = 4096
)

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithSpeaker sets the speaker_id passed to multi-speaker models.
func WithSpeaker(id string) Option {
	return func(p *Provider) { p.speakerID = id }
}

// WithLanguage sets the language_id passed to multilingual models.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithOutputRate sets the sample rate of the emitted PCM.
func WithOutputRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider synthesizes speech via a Coqui TTS server.
type Provider struct {
	serverURL  string
	speakerID  string
	language   string
	outputRate int
	client     *http.Client
	log        *slog.Logger
}

var _ tts.Provider = (*Provider)(nil)

// New creates a Provider targeting the given Coqui server base URL.
func New(serverURL string, log *slog.Logger, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		outputRate: defaultOutputRate,
		client:     &http.Client{Timeout: defaultTimeout},
		log:        log.With("provider", providerID),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ID implements tts.Provider.
func (p *Provider) ID() string { return providerID }

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format {
	return audio.Format{SampleRate: p.outputRate, Channels: 1}
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: empty text")
	}

	pcm, err := p.fetch(ctx, text)
	if err != nil {
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for off := 0; off < len(pcm); off += pcmChunkSize {
			end := off + pcmChunkSize
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

// fetch performs the HTTP request and returns mono PCM at the output rate.
func (p *Provider) fetch(ctx context.Context, text string) ([]byte, error) {
	q := url.Values{}
	q.Set("text", text)
	if p.speakerID != "" {
		q.Set("speaker_id", p.speakerID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}

	reqURL := p.serverURL + "/api/tts?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", tts.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coqui: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}

	pcm := wav[info.DataOffset : info.DataOffset+info.DataSize]
	mono := downmixMono16(pcm, info.Channels)
	if info.SampleRate != p.outputRate {
		mono = resampleMono16(mono, info.SampleRate, p.outputRate)
	}
	p.log.Debug("synthesized utterance",
		"chars", len(text),
		"source_rate", info.SampleRate,
		"pcm_bytes", len(mono))
	return mono, nil
}

// ─── WAV parsing ───

type wavInfo struct {
	Channels   int
	SampleRate int
	DataOffset int
	DataSize   int
}

// parseWAV walks the RIFF chunk list and locates the fmt and data chunks.
// Only 16-bit PCM is accepted.
func parseWAV(b []byte) (wavInfo, error) {
	var info wavInfo
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return info, errors.New("not a RIFF/WAVE stream")
	}

	off := 12
	var haveFmt, haveData bool
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return info, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(b[body : body+2])
			if format != 1 {
				return info, fmt.Errorf("unsupported WAV format %d (want PCM)", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if bits != 16 {
				return info, fmt.Errorf("unsupported bit depth %d (want 16)", bits)
			}
			haveFmt = true
		case "data":
			info.DataOffset = body
			info.DataSize = size
			haveData = true
		}
		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt || !haveData {
		return info, errors.New("missing fmt or data chunk")
	}
	return info, nil
}

// downmixMono16 averages interleaved 16-bit channels into mono.
func downmixMono16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[i*frameBytes+c*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/channels)))
	}
	return out
}

// resampleMono16 converts mono 16-bit PCM between sample rates using linear
// interpolation. Good enough for speech.
func resampleMono16(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	in := len(pcm) / 2
	if in == 0 {
		return nil
	}
	outSamples := int(int64(in) * int64(to) / int64(from))
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		pos := float64(i) * float64(from) / float64(to)
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := s0
		if idx+1 < in {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		}
		v := float64(s0)*(1-frac) + float64(s1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
