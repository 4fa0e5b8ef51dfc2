package intel

import (
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/callbroker/pkg/types"
)

// entityPattern pairs a compiled regex with the entity type it identifies
// and a canonicaliser for the matched text.
type entityPattern struct {
	// Type is the kind of entity this pattern recognises.
	Type types.EntityType

	// Regex is the compiled pattern. The first capture group, if present, is
	// passed to Canon; otherwise the full match is used.
	Regex *regexp.Regexp

	// Canon normalises the raw matched text into the entity's canonical
	// value (e.g. stripping punctuation from a phone number).
	Canon func(raw string) string
}

// defaultEntityPatterns returns the built-in set of regex-based entity
// detectors run against every scammer-leg transcript line.
func defaultEntityPatterns() []entityPattern {
	return []entityPattern{
		{
			Type:  types.EntityURL,
			Regex: regexp.MustCompile(`(?i)\b((?:https?://)?(?:www\.)?[a-z0-9][a-z0-9-]*(?:\.[a-z0-9][a-z0-9-]*)+(?:/[^\s]*)?)\b`),
			Canon: func(raw string) string { return strings.ToLower(strings.TrimRight(raw, ".,)")) },
		},
		{
			Type:  types.EntityEmail,
			Regex: regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`),
			Canon: strings.ToLower,
		},
		{
			Type:  types.EntityUPIHandle,
			Regex: regexp.MustCompile(`(?i)\b[a-z0-9.\-_]{2,}@(?:upi|okaxis|okhdfcbank|oksbi|okicici|ybl|paytm|ibl)\b`),
			Canon: strings.ToLower,
		},
		{
			Type:  types.EntityIFSCCode,
			Regex: regexp.MustCompile(`(?i)\b[A-Z]{4}0[A-Z0-9]{6}\b`),
			Canon: strings.ToUpper,
		},
		{
			Type:  types.EntityPhone,
			Regex: regexp.MustCompile(`(?:\+?\d{1,3}[\s-]?)?(?:\d[\s-]?){9,12}\d`),
			Canon: canonPhone,
		},
		{
			Type:  types.EntityBankAcct,
			Regex: regexp.MustCompile(`\b\d{9,18}\b`),
			Canon: func(raw string) string { return raw },
		},
	}
}

// canonPhone strips everything but leading '+' and digits.
func canonPhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// minPhoneDigits is the minimum digit count for a phone candidate, to avoid
// misclassifying short numeric sequences (amounts, OTPs) as phone numbers.
const minPhoneDigits = 10

// extractEntities runs every pattern against text and returns the entities
// found, tagged with source "regex" and the supplied relative timestamp.
//
// Overlapping entity types are intentionally allowed to both match the same
// substring (e.g. a bank account number could also look like a long digit
// run); dedup by [types.Entity.Key] happens downstream in the accumulator.
func extractEntities(text string, at time.Duration) []types.Entity {
	var out []types.Entity
	for _, p := range defaultEntityPatterns() {
		matches := p.Regex.FindAllStringSubmatch(text, -1)
		for _, m := range matches {
			raw := m[0]
			if len(m) > 1 && m[1] != "" {
				raw = m[1]
			}
			value := p.Canon(raw)
			if p.Type == types.EntityPhone && digitCount(value) < minPhoneDigits {
				continue
			}
			if p.Type == types.EntityBankAcct && looksLikePhone(value) {
				continue
			}
			if value == "" {
				continue
			}
			out = append(out, types.Entity{
				Type:      p.Type,
				Value:     value,
				RawText:   raw,
				Source:    "regex",
				FirstSeen: at,
			})
		}
	}
	return out
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// looksLikePhone reports whether a bare digit run is more plausibly a phone
// number than a bank account, to reduce double-classification noise.
func looksLikePhone(s string) bool {
	return len(s) >= 10 && len(s) <= 13
}
