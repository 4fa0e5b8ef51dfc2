// Package mock provides an in-memory tts.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callbroker/pkg/provider/tts"
)

// Provider returns a canned audio clip (or error) for every Synthesize call
// and records each text it was asked to render.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by every successful Synthesize call.
	Audio []byte

	// Err, if non-nil, is returned instead of Audio.
	Err error

	// Synthesized records the text passed to each call, in order.
	Synthesized []string
}

// Synthesize records text and returns p.Audio/p.Err.
func (p *Provider) Synthesize(_ context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Synthesized = append(p.Synthesized, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Audio, nil
}

// Calls returns the number of Synthesize invocations so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Synthesized)
}

var _ tts.Provider = (*Provider)(nil)
