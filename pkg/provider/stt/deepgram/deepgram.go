// Package deepgram provides a Deepgram-backed STT provider using the
// Deepgram streaming WebSocket API, collapsed into a single batch call: a
// dedicated connection is dialed per utterance window, the whole window is
// written, a CloseStream control message signals end-of-audio, and the
// first is_final Results event is taken as the committed transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/callbroker/pkg/provider/stt"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// writeChunkBytes bounds a single WebSocket binary frame. 16kHz mono
	// 16-bit PCM is 32000 B/s, so this is ~0.5s of audio per frame.
	writeChunkBytes = 16000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithSampleRate sets the audio sample rate in Hz this provider expects
// requests to already be normalised to.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider implements stt.Provider backed by the Deepgram streaming API,
// used here in a single-utterance-per-connection fashion.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe dials a fresh Deepgram streaming connection, writes req.PCM in
// bounded chunks, signals end-of-stream, and returns the first committed
// (is_final) result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	lang := req.LanguageHint
	if lang == "" {
		lang = defaultLanguage
	}

	wsURL, err := p.buildURL(lang, req.Keywords)
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "transcribe done")

	for off := 0; off < len(req.PCM); off += writeChunkBytes {
		end := min(off+writeChunkBytes, len(req.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, req.PCM[off:end]); err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: write close stream: %w", err)
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return stt.Result{}, fmt.Errorf("deepgram: read: %w", err)
		}

		result, final, ok := parseDeepgramResponse(msg)
		if !ok || !final {
			continue
		}
		result.Language = lang
		return result, nil
	}
}

// buildURL constructs the Deepgram streaming endpoint URL for the given
// language and keyword boosts.
func (p *Provider) buildURL(language string, keywords []string) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channels", "1")

	for _, kw := range keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- response parsing ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message into a
// Result. Returns (Result, isFinal, true) on success, or (zero, false,
// false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (stt.Result, bool, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Result{}, false, false
	}
	if resp.Type != "Results" {
		return stt.Result{}, false, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return stt.Result{}, false, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return stt.Result{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Words:      words,
	}, resp.IsFinal, true
}
