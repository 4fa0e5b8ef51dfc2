// Package coqui provides a tts.Provider backed by a Coqui TTS server's
// standard REST API (ghcr.io/coqui-ai/tts-cpu), synthesising one coaching
// clip per request via GET /api/tts.
package coqui

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/callbroker/pkg/provider/tts"
)

const (
	defaultLanguage = "en"
	defaultTimeout  = 10 * time.Second
	apiTTSEndpoint  = "/api/tts"
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code sent to the TTS server.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeakerID selects a non-default speaker on a multi-speaker model.
func WithSpeakerID(id string) Option {
	return func(p *Provider) { p.speakerID = id }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider synthesises coaching audio via a Coqui TTS server's standard API.
// Safe for concurrent use; the server handles one request at a time, but
// concurrent callers simply queue behind its HTTP connection pool.
type Provider struct {
	serverURL  string
	language   string
	speakerID  string
	httpClient *http.Client
}

// New creates a Provider targeting the TTS server at serverURL (e.g.
// "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize issues a single GET /api/tts request and returns the raw PCM
// with its WAV container header stripped.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	params := url.Values{}
	params.Set("text", text)
	if p.speakerID != "" {
		params.Set("speaker_id", p.speakerID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}

	reqURL := p.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	offset, err := findWAVDataOffset(wav)
	if err != nil {
		return nil, err
	}
	return wav[offset:], nil
}

// findWAVDataOffset scans the RIFF/WAVE container in wav and returns the
// byte offset of its "data" sub-chunk's payload.
func findWAVDataOffset(wav []byte) (int, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, errors.New("coqui: response is not a valid RIFF/WAVE container")
	}

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		if chunkID == "data" {
			return offset + 8, nil
		}
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return 0, errors.New("coqui: WAV response missing data chunk")
}

var _ tts.Provider = (*Provider)(nil)
