package intel_test

import (
	"context"
	"testing"

	"github.com/MrWong99/callbroker/internal/intel"
	"github.com/MrWong99/callbroker/pkg/provider/llm"
	llmmock "github.com/MrWong99/callbroker/pkg/provider/llm/mock"
	"github.com/MrWong99/callbroker/pkg/types"
)

func TestExtractor_StageBMergesValidatedEntities(t *testing.T) {
	t.Parallel()

	mockLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{"entities":[{"type":"phone","value":"+19995550123"},{"type":"bogus_type","value":"ignored"}]}`,
		},
	}
	e := intel.NewExtractor(intel.WithLLM(mockLLM))
	acc := intel.NewAccumulator()

	entry := types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "Call me on my other line if this drops.",
	}

	snap := e.Process(context.Background(), entry, acc)

	var sawLLMPhone bool
	for _, ent := range snap.Entities {
		if ent.Type == types.EntityPhone && ent.Value == "+19995550123" {
			sawLLMPhone = true
			if ent.Source != "llm" {
				t.Errorf("source = %q, want %q", ent.Source, "llm")
			}
		}
	}
	if !sawLLMPhone {
		t.Error("expected the stage B phone entity to be merged")
	}
	if len(mockLLM.CompleteCalls) != 1 {
		t.Fatalf("expected exactly one Complete call, got %d", len(mockLLM.CompleteCalls))
	}
}

func TestExtractor_StageBDiscardsMalformedReply(t *testing.T) {
	t.Parallel()

	mockLLM := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "not json at all"},
	}
	e := intel.NewExtractor(intel.WithLLM(mockLLM))
	acc := intel.NewAccumulator()

	entry := types.TranscriptEntry{
		Role: types.RoleScammer,
		Text: "Please wire the funds right now.",
	}

	// Should not panic and stage A's urgency tactic should still register.
	snap := e.Process(context.Background(), entry, acc)

	var sawUrgency bool
	for _, tac := range snap.Tactics {
		if tac == types.TacticUrgency {
			sawUrgency = true
		}
	}
	if !sawUrgency {
		t.Error("expected stage A's urgency tactic to still be detected despite stage B failure")
	}
}

func TestExtractor_StageBNoopWithoutLLM(t *testing.T) {
	t.Parallel()

	e := intel.NewExtractor()
	acc := intel.NewAccumulator()

	entry := types.TranscriptEntry{Role: types.RoleScammer, Text: "Hello there."}
	if snap := e.Process(context.Background(), entry, acc); snap.ThreatScore != 0 {
		t.Errorf("expected zero threat score for benign greeting, got %d", snap.ThreatScore)
	}
}
