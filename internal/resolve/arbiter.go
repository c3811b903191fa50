package resolve

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/llm"
	"github.com/vthunder/kgraph/internal/store"
)

// Decision is the arbiter's verdict on a candidate pair.
type Decision string

const (
	// Merge means both names refer to the same real-world entity.
	Merge Decision = "MERGE"
	// Link means the entities are closely related but distinct.
	Link Decision = "LINK"
	// KeepSeparate means the entities are unrelated or only share a
	// generic name.
	KeepSeparate Decision = "KEEP_SEPARATE"
)

// Verdict carries the arbiter's decision plus its rationale.
type Verdict struct {
	Decision      Decision `json:"decision"`
	Reasoning     string   `json:"reasoning"`
	CanonicalName string   `json:"canonical_name,omitempty"`
}

// ChatClient is the slice of the chat API the arbiter needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Outcome, error)
}

// Arbiter asks the language model whether an incoming entity and a stored
// candidate are the same real-world thing. It never returns an error: any
// failure (transport, empty response, unparseable JSON, invalid decision
// value) degrades to KeepSeparate, so resolution errs toward duplicates
// rather than wrong merges.
type Arbiter struct {
	client ChatClient
	model  string
	log    *zap.Logger
}

// NewArbiter creates an arbiter using the given chat client and model name.
func NewArbiter(client ChatClient, model string, log *zap.Logger) *Arbiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Arbiter{client: client, model: model, log: log}
}

const arbiterPrompt = `**Task:** Compare these two entities and decide their relationship.

**Entity A (New):**
- Name: %s
- Type: %s
- Desc: %s

**Entity B (Existing in DB):**
- Name: %s
- Type: %s
- Desc: %s

**Special Instructions for Person Entities:**
- Consider common name variations: titles (Dr., Director, Prof.), nicknames (Sam/Samuel), middle initials (J./John)
- Same person can have different roles/titles over time
- Focus on core identity: last name + first name root

**Options:**
- MERGE: They are same real-world entity (e.g., "Dr. Samuel Oakley" vs "Director Samuel Oakley")
- LINK: They are closely related but distinct (e.g., "Apple" vs "Apple iPhone")
- KEEP_SEPARATE: They are different or just share a generic name

Make a decision based on whether these represent the same real-world entity.

Respond ONLY with valid JSON in this exact format:
{
  "decision": "MERGE|LINK|KEEP_SEPARATE",
  "reasoning": "Brief explanation of your decision",
  "canonical_name": "Best name to use if MERGE, otherwise null"
}`

// Judge compares an incoming entity against one stored candidate.
func (a *Arbiter) Judge(ctx context.Context, incoming *store.Node, candidate *store.SimilarNode) Verdict {
	desc := incoming.Description
	if desc == "" {
		desc = "N/A"
	}
	prompt := fmt.Sprintf(arbiterPrompt,
		incoming.Name, incoming.Type, desc,
		candidate.Name, candidate.Type, candidate.Description)

	outcome, err := a.client.Chat(ctx, llm.Request{
		Model:       a.model,
		Messages:    []llm.Message{{Role: "system", Content: prompt}},
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if err != nil {
		a.log.Error("arbiter call failed", zap.String("entity", incoming.Name), zap.Error(err))
		return Verdict{Decision: KeepSeparate, Reasoning: "API error"}
	}

	raw, ok := outcome.JSONObject()
	if !ok {
		a.log.Error("arbiter returned no parseable JSON", zap.String("entity", incoming.Name))
		return Verdict{Decision: KeepSeparate, Reasoning: "JSON parse error"}
	}

	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		a.log.Error("arbiter verdict unmarshal failed", zap.Error(err))
		return Verdict{Decision: KeepSeparate, Reasoning: "JSON parse error"}
	}

	switch v.Decision {
	case Merge, Link, KeepSeparate:
	default:
		a.log.Warn("arbiter returned invalid decision",
			zap.String("decision", string(v.Decision)))
		v = Verdict{Decision: KeepSeparate, Reasoning: "invalid decision value"}
	}
	if v.Reasoning == "" {
		v.Reasoning = "No reasoning provided"
	}
	return v
}
