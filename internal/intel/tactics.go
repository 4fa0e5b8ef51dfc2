package intel

import (
	"regexp"
	"time"

	"github.com/MrWong99/callbroker/pkg/types"
)

// tacticPattern pairs a compiled regex with the social-engineering tactic it
// signals. Patterns are deliberately loose (case-insensitive substring-style
// matches) since scam scripts vary in phrasing.
type tacticPattern struct {
	Tactic ThreatTactic
	Regex  *regexp.Regexp
}

// ThreatTactic is a local alias kept for readability within this package;
// it is identical to [types.ThreatTactic].
type ThreatTactic = types.ThreatTactic

// defaultTacticPatterns returns the built-in regex detectors for the closed
// set of social-engineering tactics. types.TacticMaliciousURL is
// deliberately absent — it is only ever added by the URL-reputation probe,
// never by text matching.
func defaultTacticPatterns() []tacticPattern {
	return []tacticPattern{
		{
			Tactic: types.TacticUrgency,
			Regex:  regexp.MustCompile(`(?i)\b(right now|immediately|urgent|act fast|last chance|before it'?s too late|within (the next )?\d+ minutes?)\b`),
		},
		{
			Tactic: types.TacticAuthority,
			Regex:  regexp.MustCompile(`(?i)\b(i am (calling|speaking) (from|on behalf of)|this is (the )?(police|income tax|bank|rbi|cyber ?crime|government) (department|officer|branch)?|official (notice|warrant)|badge number)\b`),
		},
		{
			Tactic: types.TacticFear,
			Regex:  regexp.MustCompile(`(?i)\b(arrest(ed)?|warrant|jail|lawsuit|account (will be |is )?(suspended|frozen|blocked)|legal action|seized)\b`),
		},
		{
			Tactic: types.TacticGreed,
			Regex:  regexp.MustCompile(`(?i)\b(you'?ve won|lottery|prize|cashback|guaranteed returns?|double your money|investment opportunity|claim your reward)\b`),
		},
		{
			Tactic: types.TacticCredentialReq,
			Regex:  regexp.MustCompile(`(?i)\b(otp|one[- ]time (pass(code|word)|pin)|share (your )?(otp|pin|password|cvv)|card number|pin code|verification code|security code)\b`),
		},
		{
			Tactic: types.TacticImpersonation,
			Regex:  regexp.MustCompile(`(?i)\b(i am (calling )?from (amazon|microsoft|apple|your bank|the irs)|tech support|customer care (executive|representative)|courier (company|service))\b`),
		},
		{
			Tactic: types.TacticIsolation,
			Regex:  regexp.MustCompile(`(?i)\b(do not tell|don'?t tell anyone|keep this (confidential|secret|between us)|do not (hang up|disconnect)|stay on the line|don'?t call anyone else)\b`),
		},
	}
}

// extractTactics runs every tactic pattern against text and returns the
// distinct tactics it signals. at is accepted for symmetry with
// extractEntities but tactics carry no per-occurrence timestamp in
// [types.IntelligenceSnapshot].
func extractTactics(text string, _ time.Duration) []types.ThreatTactic {
	var out []types.ThreatTactic
	for _, p := range defaultTacticPatterns() {
		if p.Regex.MatchString(text) {
			out = append(out, p.Tactic)
		}
	}
	return out
}
