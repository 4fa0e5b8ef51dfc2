package mcptool

import (
	"testing"

	"github.com/MrWong99/callbroker/pkg/provider/urlscan"
)

func TestToResult_KnownVerdictPassesThrough(t *testing.T) {
	resp := scanResponse{Verdict: "malicious", Score: 0.92, Reasons: []string{"known phishing kit"}}
	got := toResult("http://evil.example/login", resp)

	if got.Verdict != urlscan.VerdictMalicious {
		t.Errorf("verdict = %q, want %q", got.Verdict, urlscan.VerdictMalicious)
	}
	if got.Score != 0.92 {
		t.Errorf("score = %v, want 0.92", got.Score)
	}
	if got.URL != "http://evil.example/login" {
		t.Errorf("url = %q, want input url preserved", got.URL)
	}
}

func TestToResult_UnrecognisedVerdictBecomesUnknown(t *testing.T) {
	resp := scanResponse{Verdict: "not-a-real-verdict"}
	got := toResult("http://example.com", resp)

	if got.Verdict != urlscan.VerdictUnknown {
		t.Errorf("verdict = %q, want %q", got.Verdict, urlscan.VerdictUnknown)
	}
}
