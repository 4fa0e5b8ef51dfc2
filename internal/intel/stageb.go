package intel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/callbroker/pkg/provider/llm"
	"github.com/MrWong99/callbroker/pkg/types"
)

// stageBSystemPrompt instructs the model to return entities as strict JSON
// matching stageBResponse, over the closed EntityType set Stage A also
// recognises. The model is given no additional context beyond the single
// utterance so a malformed or hallucinated reply can only ever expand the
// entity set, never alter an already-merged tactic or score.
const stageBSystemPrompt = `You extract scam-relevant entities from a single line of transcribed phone call speech. Respond with ONLY a JSON object of the form {"entities":[{"type":"phone|url|upi_handle|bank_account|ifsc_code|email|keyword","value":"..."}]}. Omit anything you are not confident about. If nothing qualifies, respond {"entities":[]}. Never include commentary outside the JSON object.`

// stageBEntity is one element of the model's raw extraction response.
type stageBEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// stageBResponse is the strict extraction schema Stage B validates the
// model's reply against.
type stageBResponse struct {
	Entities []stageBEntity `json:"entities"`
}

// processStageB submits text to the configured LLM and returns the entities
// its reply validates against the closed EntityType set. Any failure —
// transport error, non-JSON reply, or an entity naming an unrecognised type
// — is discarded silently; Stage A's findings stand on their own per the
// two-stage contract. A nil llm (no provider configured) is a silent no-op.
func (e *Extractor) processStageB(ctx context.Context, text string, at time.Duration) []types.Entity {
	if e.llm == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: stageBSystemPrompt,
		Messages:     []types.Message{{Role: "user", Content: text}},
		Temperature:  0,
		MaxTokens:    256,
	})
	if err != nil {
		slog.Debug("intel: stage B completion failed, falling back to stage A only", "err", err)
		return nil
	}

	var parsed stageBResponse
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &parsed); err != nil {
		slog.Debug("intel: stage B reply failed schema validation, discarding", "err", err)
		return nil
	}

	var out []types.Entity
	for _, raw := range parsed.Entities {
		value := strings.TrimSpace(raw.Value)
		if value == "" {
			continue
		}
		entType := types.EntityType(strings.ToLower(strings.TrimSpace(raw.Type)))
		if !validEntityType(entType) {
			continue
		}
		out = append(out, types.Entity{
			Type:      entType,
			Value:     value,
			RawText:   raw.Value,
			Source:    "llm",
			FirstSeen: at,
		})
	}
	return out
}

// validEntityType reports whether t is one of the closed set Stage A also
// recognises; Stage B may not invent new entity kinds.
func validEntityType(t types.EntityType) bool {
	switch t {
	case types.EntityPhone, types.EntityURL, types.EntityUPIHandle,
		types.EntityBankAcct, types.EntityIFSCCode, types.EntityEmail, types.EntityKeyword:
		return true
	default:
		return false
	}
}

// extractJSONObject trims any leading/trailing prose a model may add around
// the JSON object despite instructions, returning the substring spanning the
// outermost braces. Returns s unchanged if no braces are found.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
