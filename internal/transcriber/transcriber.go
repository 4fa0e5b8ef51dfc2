// Package transcriber turns one call leg's raw audio into committed
// transcript entries: it normalises ingress audio, feeds it through a VAD
// session to find utterance boundaries, and hands each completed utterance
// to an STT provider as a single batch request.
package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/callbroker/internal/observe"
	"github.com/MrWong99/callbroker/pkg/audio"
	"github.com/MrWong99/callbroker/pkg/broker"
	"github.com/MrWong99/callbroker/pkg/provider/stt"
	"github.com/MrWong99/callbroker/pkg/provider/vad"
	"github.com/MrWong99/callbroker/pkg/types"
)

const (
	defaultFrameSizeMs      = 20
	defaultSpeechThreshold  = 0.5
	defaultSilenceThreshold = 0.35

	// bytesPerSample is fixed: the pipeline only ever carries 16-bit PCM.
	bytesPerSample = 2
)

// frameByteSize returns the byte length of one VAD frame at the fixed
// 16kHz mono target format and the given frame duration.
func frameByteSize(frameSizeMs int) int {
	samples := audio.TargetSampleRate * frameSizeMs / 1000
	return samples * bytesPerSample * audio.TargetChannels
}

// Option configures a [Leg] transcriber.
type Option func(*Leg)

// WithFrameSizeMs overrides the VAD frame duration. Default 20ms.
func WithFrameSizeMs(ms int) Option {
	return func(l *Leg) { l.frameSizeMs = ms }
}

// WithKeywords sets the vocabulary hints passed to the STT provider on every
// utterance (e.g. "OTP", "UPI", "IFSC").
func WithKeywords(keywords []string) Option {
	return func(l *Leg) { l.keywords = keywords }
}

// WithLanguageHint sets the BCP-47 language hint passed to the STT provider.
func WithLanguageHint(lang string) Option {
	return func(l *Leg) { l.languageHint = lang }
}

// OnTranscript is called once per committed utterance, with the finished
// [types.TranscriptEntry]. Implementations typically forward the entry to
// [broker.Session.AppendTranscript] and the intelligence pipeline.
type OnTranscript func(ctx context.Context, entry types.TranscriptEntry)

// Leg endpoints and transcribes one call leg's audio stream. Not safe for
// concurrent use from multiple goroutines — a [broker.Session] delivers
// audio for a given leg to exactly one [broker.AudioObserver] call at a
// time, so one Leg per (session, role) is sufficient.
type Leg struct {
	role types.Role
	stt  stt.Provider
	vad  vad.Engine
	norm *audio.Normaliser

	frameSizeMs  int
	keywords     []string
	languageHint string
	onTranscript OnTranscript

	session vad.SessionHandle
	pending []byte // bytes not yet long enough to form a full VAD frame
	utter   []byte // accumulated PCM for the in-progress utterance
	speech  bool
}

// NewLeg constructs a Leg for role, backed by sttP and vadEngine.
func NewLeg(role types.Role, sttP stt.Provider, vadEngine vad.Engine, onTranscript OnTranscript, opts ...Option) (*Leg, error) {
	l := &Leg{
		role:         role,
		stt:          sttP,
		vad:          vadEngine,
		norm:         audio.NewNormaliser(),
		frameSizeMs:  defaultFrameSizeMs,
		onTranscript: onTranscript,
	}
	for _, o := range opts {
		o(l)
	}

	sess, err := l.vad.NewSession(vad.Config{
		SampleRate:       audio.TargetSampleRate,
		FrameSizeMs:      l.frameSizeMs,
		SpeechThreshold:  defaultSpeechThreshold,
		SilenceThreshold: defaultSilenceThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("transcriber: new vad session: %w", err)
	}
	l.session = sess
	return l, nil
}

// HandleAudio normalises payload, runs it through the VAD session frame by
// frame, and transcribes any utterance that VAD reports as complete. It is
// intended as a [broker.AudioObserver] for one leg's role, filtering out the
// other leg's audio.
//
// Transcription runs synchronously on the caller's goroutine for simplicity;
// callers that need to avoid blocking the audio-relay path should invoke
// HandleAudio from their own per-leg goroutine (the dispatcher does this).
func (l *Leg) HandleAudio(ctx context.Context, from types.Role, payload broker.AudioPayload) {
	if from != l.role {
		return
	}

	frame, err := l.norm.Decode(audio.Codec(payload.Codec), payload.Data, payload.SampleRate, payload.Channels, types.AudioFrame{Timestamp: payload.Timestamp})
	if err != nil {
		slog.Warn("transcriber: decode failed", "role", l.role, "err", err)
		return
	}

	l.pending = append(l.pending, frame.Data...)
	frameBytes := frameByteSize(l.frameSizeMs)

	for len(l.pending) >= frameBytes {
		chunk := make([]byte, frameBytes)
		copy(chunk, l.pending[:frameBytes])
		l.pending = l.pending[frameBytes:]
		l.processFrame(ctx, chunk, frame.Timestamp)
	}
}

// processFrame runs one fixed-size PCM frame through VAD and updates the
// in-progress utterance buffer, flushing to STT on a detected speech end.
func (l *Leg) processFrame(ctx context.Context, frame []byte, at time.Duration) {
	event, err := l.session.ProcessFrame(frame)
	if err != nil {
		slog.Warn("transcriber: vad process frame failed", "role", l.role, "err", err)
		return
	}

	switch event.Type {
	case vad.VADSpeechStart:
		l.speech = true
		l.utter = append(l.utter[:0], frame...)
	case vad.VADSpeechContinue:
		if l.speech {
			l.utter = append(l.utter, frame...)
		}
	case vad.VADSpeechEnd:
		if l.speech {
			l.utter = append(l.utter, frame...)
			l.flush(ctx, at)
		}
		l.speech = false
	case vad.VADSilence:
		if l.speech {
			// Defensive: a backend that skips an explicit SpeechEnd event
			// before reporting silence still gets its utterance flushed.
			l.flush(ctx, at)
			l.speech = false
		}
	}
}

// flush transcribes the accumulated utterance buffer and, on success,
// invokes onTranscript with the committed entry. The buffer is reset
// regardless of outcome so a transcription failure does not wedge the leg.
func (l *Leg) flush(ctx context.Context, at time.Duration) {
	pcm := l.utter
	l.utter = nil
	if len(pcm) == 0 {
		return
	}

	start := time.Now()
	result, err := l.stt.Transcribe(ctx, stt.Request{
		PCM:          pcm,
		LanguageHint: l.languageHint,
		Keywords:     l.keywords,
	})
	observe.DefaultMetrics().STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "stt", string(l.role))
		slog.Warn("transcriber: transcribe failed", "role", l.role, "err", err)
		return
	}
	if result.Text == "" {
		return
	}

	entry := types.TranscriptEntry{
		Role:       l.role,
		Text:       result.Text,
		Language:   result.Language,
		Confidence: result.Confidence,
		Timestamp:  at,
		Duration:   time.Duration(len(pcm)/bytesPerSample/audio.TargetChannels) * time.Second / audio.TargetSampleRate,
	}
	if l.onTranscript != nil {
		l.onTranscript(ctx, entry)
	}
}
