package intel

import (
	"context"
	"strings"
	"time"

	"github.com/MrWong99/callbroker/pkg/provider/llm"
	"github.com/MrWong99/callbroker/pkg/types"
)

// defaultLexicon lists short scam-trigger phrases the phonetic matcher
// watches for, to tolerate STT mis-transcription of terms an STT model
// trained on generic speech may garble (e.g. "anydesk" heard as "any desk").
var defaultLexicon = []string{
	"anydesk", "teamviewer", "gift card", "wire transfer", "otp",
	"remote access", "screen share", "bank account", "routing number",
	"social security", "income tax", "warrant", "arrest",
}

// ExtractorOption configures an [Extractor].
type ExtractorOption func(*Extractor)

// WithLexicon replaces the default scam-trigger phrase list the phonetic
// matcher watches for.
func WithLexicon(terms []string) ExtractorOption {
	return func(e *Extractor) {
		e.lexicon = terms
	}
}

// WithPhoneticMatcher overrides the matcher used for lexicon lookups; the
// default is [NewPhoneticMatcher] with its default thresholds.
func WithPhoneticMatcher(m *PhoneticMatcher) ExtractorOption {
	return func(e *Extractor) {
		e.matcher = m
	}
}

// WithLLM enables Stage B model-assisted extraction against provider. Stage
// B runs in addition to, never instead of, Stage A's deterministic patterns.
// A nil provider (the default) disables Stage B entirely.
func WithLLM(provider llm.Provider) ExtractorOption {
	return func(e *Extractor) {
		e.llm = provider
	}
}

// Extractor turns a single committed transcript entry into the entities and
// tactics it evidences. It is stateless and safe for concurrent use; the
// running merge lives in an [Accumulator] supplied by the caller.
type Extractor struct {
	lexicon []string
	matcher *PhoneticMatcher
	llm     llm.Provider
}

// NewExtractor returns an Extractor configured with opts. Defaults: the
// built-in scam-trigger lexicon and a [PhoneticMatcher] with standard
// thresholds.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		lexicon: defaultLexicon,
		matcher: NewPhoneticMatcher(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Process runs both extraction stages against entry and merges their union
// into acc, returning the updated snapshot. Entries from the operator leg
// are ignored — intelligence is only gathered from what the scammer says.
// Stage A (deterministic patterns) always runs; Stage B (model-assisted)
// runs only if the Extractor was built with [WithLLM] and its reply passes
// schema validation — a Stage B failure never drops Stage A's findings.
func (e *Extractor) Process(ctx context.Context, entry types.TranscriptEntry, acc *Accumulator) types.IntelligenceSnapshot {
	if entry.Role != types.RoleScammer {
		return acc.Snapshot(entry.Timestamp)
	}

	entities := extractEntities(entry.Text, entry.Timestamp)
	entities = append(entities, e.matchLexicon(entry.Text, entry.Timestamp)...)
	entities = append(entities, e.processStageB(ctx, entry.Text, entry.Timestamp)...)
	tactics := extractTactics(entry.Text, entry.Timestamp)

	return acc.Merge(entities, tactics, entry.Timestamp)
}

// matchLexicon slides 1- to 3-word windows over text and phonetically
// matches each window against the lexicon, returning a keyword entity for
// every accepted match. Windows are deduplicated by matched term within a
// single call so one utterance never yields repeated identical entities
// (the accumulator would drop the repeats anyway, but this avoids the
// redundant matcher calls).
func (e *Extractor) matchLexicon(text string, at time.Duration) []types.Entity {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(e.lexicon) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var out []types.Entity

	for windowLen := 1; windowLen <= 3 && windowLen <= len(tokens); windowLen++ {
		for i := 0; i+windowLen <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+windowLen], " ")
			term, _, matched := e.matcher.Match(window, e.lexicon)
			if !matched {
				continue
			}
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, types.Entity{
				Type:      types.EntityKeyword,
				Value:     strings.ToLower(term),
				RawText:   window,
				Source:    "lexicon",
				FirstSeen: at,
			})
		}
	}
	return out
}
