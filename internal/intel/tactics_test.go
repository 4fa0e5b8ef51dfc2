package intel_test

import (
	"context"
	"testing"

	"github.com/MrWong99/callbroker/internal/intel"
	"github.com/MrWong99/callbroker/pkg/types"
)

func TestExtractor_DetectsUrgencyAndCredentialRequestTactics(t *testing.T) {
	t.Parallel()

	e := intel.NewExtractor()
	acc := intel.NewAccumulator()

	entry := types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "Please share your OTP right now or your account will be suspended.",
	}

	snap := e.Process(context.Background(), entry, acc)

	want := map[types.ThreatTactic]bool{
		types.TacticUrgency:       false,
		types.TacticCredentialReq: false,
	}
	for _, tac := range snap.Tactics {
		if _, ok := want[tac]; ok {
			want[tac] = true
		}
	}
	for tac, seen := range want {
		if !seen {
			t.Errorf("expected tactic %q to be detected", tac)
		}
	}
}

func TestExtractor_DetectsAuthorityAndFearTactics(t *testing.T) {
	t.Parallel()

	e := intel.NewExtractor()
	acc := intel.NewAccumulator()

	entry := types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "This is the police department. Your account will be frozen unless you cooperate.",
	}

	snap := e.Process(context.Background(), entry, acc)

	var sawAuthority, sawFear bool
	for _, tac := range snap.Tactics {
		switch tac {
		case types.TacticAuthority:
			sawAuthority = true
		case types.TacticFear:
			sawFear = true
		}
	}
	if !sawAuthority {
		t.Error("expected authority tactic")
	}
	if !sawFear {
		t.Error("expected fear tactic")
	}
}

func TestExtractor_DetectsIsolationTactic(t *testing.T) {
	t.Parallel()

	e := intel.NewExtractor()
	acc := intel.NewAccumulator()

	snap := e.Process(context.Background(), types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "Don't tell anyone about this call and stay on the line.",
	}, acc)

	var sawIsolation bool
	for _, tac := range snap.Tactics {
		if tac == types.TacticIsolation {
			sawIsolation = true
		}
	}
	if !sawIsolation {
		t.Error("expected isolation tactic")
	}
}

func TestExtractor_ThreatScoreMonotonicallyIncreases(t *testing.T) {
	t.Parallel()

	e := intel.NewExtractor()
	acc := intel.NewAccumulator()

	first := e.Process(context.Background(), types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "This is the police department, act immediately.",
	}, acc)

	second := e.Process(context.Background(), types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "Share your OTP and don't tell anyone about this call.",
	}, acc)

	if second.ThreatScore <= first.ThreatScore {
		t.Errorf("expected threat score to increase: first=%d second=%d", first.ThreatScore, second.ThreatScore)
	}
	if second.ThreatScore < first.ThreatScore {
		t.Error("threat score must never decrease")
	}
}

func TestExtractor_NoTacticsNoScoreChange(t *testing.T) {
	t.Parallel()

	e := intel.NewExtractor()
	acc := intel.NewAccumulator()

	snap := e.Process(context.Background(), types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "Good morning, how can I help you today?",
	}, acc)

	if snap.ThreatScore != 0 {
		t.Errorf("expected threat score 0 for benign text, got %d", snap.ThreatScore)
	}
}
