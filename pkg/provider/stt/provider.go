// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A call leg's audio is already endpointed upstream: the streaming
// transcriber in internal/transcriber buffers a leg's normalised audio into
// utterance-sized windows using VAD. An STT provider here is therefore a
// single batch call — hand it one utterance's worth of PCM and get back a
// committed transcript — rather than a long-lived streaming session. That
// keeps the provider boundary a plain request/response call the resilience
// package can wrap with circuit-breaker failover (STTFallback); a failed call
// is not retried.
package stt

import (
	"context"
	"time"
)

// Request is one utterance window of already-normalised audio.
type Request struct {
	// PCM is linear PCM16 little-endian, 16kHz mono.
	PCM []byte

	// LanguageHint is an optional BCP-47 tag. Empty lets the provider
	// auto-detect, if it supports that.
	LanguageHint string

	// Keywords biases recognition toward scam-relevant vocabulary (OTP, UPI,
	// IFSC, etc.) that a generic acoustic model under-recognises.
	Keywords []string
}

// Result is a committed transcription of one utterance window.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the BCP-47 tag the provider detected or was hinted.
	Language string

	// Confidence is the overall confidence score (0.0-1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Words contains per-word detail when available. May be nil.
	Words []WordDetail
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use: the streaming
// transcriber may call Transcribe for both legs of many calls concurrently.
type Provider interface {
	// Transcribe blocks until the provider has committed a result for req, or
	// ctx is cancelled, or the provider fails. Failures are returned as plain
	// wrapped errors; callers do not distinguish transient from fatal ones.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
