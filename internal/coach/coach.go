// Package coach generates operator-facing guidance during a live call: an
// LLM watches the running transcript and intelligence snapshot and streams
// short suggestions ("ask for a callback number", "they're pushing gift
// cards — flag payment_request") sentence by sentence as they're produced,
// each tagged with a playbook strategy and, when a TTS collaborator is
// configured, synthesised speech.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/callbroker/internal/observe"
	"github.com/MrWong99/callbroker/pkg/provider/llm"
	"github.com/MrWong99/callbroker/pkg/provider/tts"
	"github.com/MrWong99/callbroker/pkg/types"
)

const (
	defaultSystemPrompt = "You are a real-time coaching assistant for an operator handling a live " +
		"call with a suspected scammer. You see the running transcript and a running " +
		"intelligence snapshot (entities and tactics observed so far). Give the operator " +
		"one short, actionable suggestion: a question to ask, a detail to confirm, or a risk " +
		"to flag. Keep it to one or two sentences. Never address the scammer directly — you " +
		"are speaking only to the operator."

	// classifySystemPrompt drives the separate, non-streaming call that tags
	// each suggestion with a playbook strategy and a short intent label.
	classifySystemPrompt = "Given the same call context, classify the single best next move for the " +
		"operator. Respond with ONLY a JSON object of the form " +
		`{"strategy":"delay|empathy|information_extraction|de_escalation|terminate","intent":"short free-text label for what the scammer is currently attempting"}. ` +
		"Never include commentary outside the JSON object."

	defaultTemperature = 0.4
	defaultMaxTokens    = 200

	// defaultTranscriptWindow bounds how many recent transcript entries are
	// sent to the model, to keep prompt size bounded on long calls.
	defaultTranscriptWindow = 6

	classifyMaxTokens = 100
)

// Option configures a [Coach].
type Option func(*Coach)

// WithSystemPrompt overrides the instruction given to the model.
func WithSystemPrompt(prompt string) Option {
	return func(c *Coach) { c.systemPrompt = prompt }
}

// WithTemperature overrides the completion temperature. Default 0.4.
func WithTemperature(t float64) Option {
	return func(c *Coach) { c.temperature = t }
}

// WithMaxTokens overrides the completion token cap. Default 200.
func WithMaxTokens(n int) Option {
	return func(c *Coach) { c.maxTokens = n }
}

// WithTranscriptWindow overrides how many trailing transcript entries are
// included in the prompt. Default 6.
func WithTranscriptWindow(n int) Option {
	return func(c *Coach) { c.transcriptWindow = n }
}

// WithTTS enables audio synthesis of each streamed suggestion. A nil
// provider (the default) leaves CoachingSuggestion.Audio unset.
func WithTTS(provider tts.Provider) Option {
	return func(c *Coach) { c.tts = provider }
}

// Coach streams coaching suggestions for one call using an LLM. A Coach is
// stateless between calls to Suggest; the caller supplies the transcript and
// intelligence snapshot fresh each time.
//
// Safe for concurrent use — Suggest may be called concurrently for
// independent calls sharing one Coach.
type Coach struct {
	model llm.Provider
	tts   tts.Provider

	systemPrompt     string
	temperature      float64
	maxTokens        int
	transcriptWindow int

	wg sync.WaitGroup
}

// New constructs a Coach backed by model.
func New(model llm.Provider, opts ...Option) *Coach {
	c := &Coach{
		model:            model,
		systemPrompt:     defaultSystemPrompt,
		temperature:      defaultTemperature,
		maxTokens:        defaultMaxTokens,
		transcriptWindow: defaultTranscriptWindow,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Suggest asks the model for one coaching suggestion given the call's
// transcript so far and its current intelligence snapshot, and returns a
// channel that receives the suggestion sentence-by-sentence as the model
// streams it. The channel is closed when the stream ends or ctx is
// cancelled.
//
// Before streaming begins, Suggest makes one additional non-streaming call
// to classify the suggestion's playbook [types.CoachingStrategy] and a short
// intent label; both are attached to every fragment emitted on the channel.
// A classification failure leaves both fields empty without affecting the
// streamed text.
//
// Each value on the channel is a complete [types.CoachingSuggestion]
// fragment — callers typically forward each one straight to the operator
// leg as it arrives, rather than waiting for the full suggestion.
func (c *Coach) Suggest(ctx context.Context, transcript []types.TranscriptEntry, snap types.IntelligenceSnapshot) (<-chan types.CoachingSuggestion, error) {
	window := c.windowTranscript(transcript)
	req := c.buildRequest(window, snap)

	start := time.Now()
	chunkCh, err := c.model.StreamCompletion(ctx, req)
	observe.DefaultMetrics().LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "llm", "coach")
		return nil, fmt.Errorf("coach: stream completion: %w", err)
	}

	strategy, intentLabel := c.classify(ctx, window, snap)

	out := make(chan types.CoachingSuggestion, 4)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(out)
		forwardSentences(ctx, chunkCh, out, strategy, intentLabel, c.tts)
	}()
	return out, nil
}

// Wait blocks until every suggestion-streaming goroutine started by Suggest
// has finished. Intended for tests and graceful shutdown.
func (c *Coach) Wait() {
	c.wg.Wait()
}

// windowTranscript trims transcript to the trailing transcriptWindow entries.
func (c *Coach) windowTranscript(transcript []types.TranscriptEntry) []types.TranscriptEntry {
	if len(transcript) > c.transcriptWindow {
		return transcript[len(transcript)-c.transcriptWindow:]
	}
	return transcript
}

// renderTranscriptMostRecentFirst renders window oldest-entry-last, so the
// model sees the most recent utterance first — the signal most relevant to
// its next suggestion.
func renderTranscriptMostRecentFirst(b *strings.Builder, window []types.TranscriptEntry) {
	for i := len(window) - 1; i >= 0; i-- {
		entry := window[i]
		fmt.Fprintf(b, "[%s] %s\n", entry.Role, entry.Text)
	}
}

// renderIntelligence renders snap's entities, tactics, and score.
func renderIntelligence(b *strings.Builder, snap types.IntelligenceSnapshot) {
	if len(snap.Entities) == 0 && len(snap.Tactics) == 0 {
		b.WriteString("(none yet)\n")
	} else {
		for _, e := range snap.Entities {
			fmt.Fprintf(b, "- entity %s: %s\n", e.Type, e.Value)
		}
		for _, t := range snap.Tactics {
			fmt.Fprintf(b, "- tactic: %s\n", t)
		}
	}
	fmt.Fprintf(b, "\nThreat score: %d/100\n", snap.ThreatScore)
}

// buildRequest renders window (most-recent-first) and snap into an LLM
// completion request asking for the next coaching suggestion.
func (c *Coach) buildRequest(window []types.TranscriptEntry, snap types.IntelligenceSnapshot) llm.CompletionRequest {
	var b strings.Builder
	b.WriteString("Transcript so far (most recent first):\n")
	renderTranscriptMostRecentFirst(&b, window)

	b.WriteString("\nIntelligence observed so far:\n")
	renderIntelligence(&b, snap)
	b.WriteString("\nWhat should the operator do or ask next?")

	return llm.CompletionRequest{
		SystemPrompt: c.systemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: b.String()},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
}

// classifyResponse is the strict schema the playbook-classification call's
// reply is validated against.
type classifyResponse struct {
	Strategy string `json:"strategy"`
	Intent   string `json:"intent"`
}

// classify asks the model to tag the call's current state with a playbook
// strategy and a short intent label. Any failure — transport error,
// non-JSON reply, or a strategy outside the closed set — yields two empty
// strings rather than an error; a coaching suggestion is still useful
// without a classification.
func (c *Coach) classify(ctx context.Context, window []types.TranscriptEntry, snap types.IntelligenceSnapshot) (types.CoachingStrategy, string) {
	var b strings.Builder
	renderTranscriptMostRecentFirst(&b, window)
	b.WriteString("\n")
	renderIntelligence(&b, snap)

	start := time.Now()
	resp, err := c.model.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: classifySystemPrompt,
		Messages: []types.Message{
			{Role: "user", Content: b.String()},
		},
		Temperature: 0,
		MaxTokens:   classifyMaxTokens,
	})
	observe.DefaultMetrics().LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil || resp == nil {
		slog.Debug("coach: strategy classification failed", "err", err)
		return "", ""
	}

	var parsed classifyResponse
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		slog.Debug("coach: strategy classification reply failed schema validation", "err", err)
		return "", ""
	}

	strategy := types.CoachingStrategy(strings.ToLower(strings.TrimSpace(parsed.Strategy)))
	if !types.ValidCoachingStrategy(strategy) {
		strategy = ""
	}
	return strategy, strings.TrimSpace(parsed.Intent)
}

// extractJSONObject trims any leading/trailing prose a model may add around
// the JSON object despite instructions, returning the substring spanning the
// outermost braces. Returns s unchanged if no braces are found.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// forwardSentences reads token chunks from ch, accumulates them into
// complete sentences, and writes each sentence to out as a
// [types.CoachingSuggestion] tagged with strategy and intentLabel. When
// synth is non-nil, each sentence is also synthesised to audio before being
// sent; a synthesis failure is logged and the suggestion is still sent with
// no audio. Any text remaining when the stream ends is flushed as a final
// fragment.
func forwardSentences(ctx context.Context, ch <-chan llm.Chunk, out chan<- types.CoachingSuggestion, strategy types.CoachingStrategy, intentLabel string, synth tts.Provider) {
	start := time.Now()
	var buf strings.Builder

	flush := func(text string) bool {
		suggestion := types.CoachingSuggestion{
			Text:        text,
			Strategy:    strategy,
			IntentLabel: intentLabel,
			Timestamp:   time.Since(start),
		}
		if synth != nil {
			start := time.Now()
			audioBytes, err := synth.Synthesize(ctx, text)
			observe.DefaultMetrics().TTSDuration.Record(ctx, time.Since(start).Seconds())
			if err != nil {
				observe.DefaultMetrics().RecordProviderError(ctx, "tts", "coach")
				slog.Warn("coach: tts synthesis failed", "err", err)
			} else {
				suggestion.Audio = audioBytes
			}
		}
		observe.DefaultMetrics().RecordCoachingSuggestion(ctx, string(strategy))
		select {
		case out <- suggestion:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return
			}

			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
			}

			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				if !flush(sentence) {
					return
				}
			}

			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character immediately followed by whitespace. Returns -1 if no such
// boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
