// Package tts defines the Provider interface for synthesising the coaching
// audio clips whispered into the operator's live-assist channel.
//
// Unlike a conversational NPC voice backend, coaching audio is short,
// single-voice, and produced from a fully-formed suggestion string rather
// than a live token stream, so the interface is a plain request/response
// call rather than a streaming pipeline.
package tts

import "context"

// Provider is the abstraction over any TTS backend used to voice a coaching
// suggestion. Implementations must be safe for concurrent use.
type Provider interface {
	// Synthesize renders text as a single PCM audio clip in the operator
	// coaching voice. Returns an error only if synthesis could not be
	// completed; a provider should not return a partial clip.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
