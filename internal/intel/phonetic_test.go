package intel_test

import (
	"testing"

	"github.com/MrWong99/callbroker/internal/intel"
)

func TestPhoneticMatcher_SingleWordMatch(t *testing.T) {
	t.Parallel()

	m := intel.NewPhoneticMatcher()
	terms := []string{"anydesk", "teamviewer", "gift card"}

	corrected, conf, matched := m.Match("any desk", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "any desk")
	}
	if corrected != "anydesk" {
		t.Errorf("Match(%q): corrected=%q, want %q", "any desk", corrected, "anydesk")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "any desk", conf)
	}
}

func TestPhoneticMatcher_MultiWordTermMatch(t *testing.T) {
	t.Parallel()

	m := intel.NewPhoneticMatcher()
	terms := []string{"gift card", "anydesk", "wire transfer"}

	corrected, conf, matched := m.Match("gift cards", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "gift cards")
	}
	if corrected != "gift card" {
		t.Errorf("Match(%q): corrected=%q, want %q", "gift cards", corrected, "gift card")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "gift cards", conf)
	}
}

func TestPhoneticMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := intel.NewPhoneticMatcher()
	terms := []string{"anydesk", "teamviewer"}

	corrected, conf, matched := m.Match("weather forecast", terms)
	if matched {
		t.Fatalf("Match(%q, terms): matched=true, want false", "weather forecast")
	}
	if corrected != "weather forecast" {
		t.Errorf("Match(%q): corrected=%q, want original %q", "weather forecast", corrected, "weather forecast")
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "weather forecast", conf)
	}
}

func TestPhoneticMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := intel.NewPhoneticMatcher()
	terms := []string{"otp", "anydesk"}

	corrected, conf, matched := m.Match("OTP", terms)
	if !matched {
		t.Fatalf("Match(%q, terms): matched=false, want true", "OTP")
	}
	if corrected != "otp" {
		t.Errorf("Match(%q): corrected=%q, want %q", "OTP", corrected, "otp")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9 for exact match", "OTP", conf)
	}
}

func TestPhoneticMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := intel.NewPhoneticMatcher(
		intel.WithPhoneticThreshold(0.99),
		intel.WithFuzzyThreshold(0.99),
	)
	terms := []string{"anydesk"}

	_, _, matched := m.Match("any desk", terms)
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}
