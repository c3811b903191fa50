package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/llm"
)

// ChatClient is the slice of the chat API the extractor needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Outcome, error)
}

// LLMExtractor implements Extractor with two chat passes.
type LLMExtractor struct {
	chat  ChatClient
	model string
	log   *zap.Logger

	// MaxTokens applies to each pass.
	MaxTokens int
}

// NewLLMExtractor creates an extractor for the given model.
func NewLLMExtractor(chat ChatClient, model string, log *zap.Logger) *LLMExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &LLMExtractor{chat: chat, model: model, log: log, MaxTokens: 3000}
}

const extractToolName = "extract_knowledge_graph"

// extractTool is the function schema both passes ask the model to call.
func extractTool() llm.Tool {
	return llm.Tool{
		Type: "function",
		Function: llm.Function{
			Name:        extractToolName,
			Description: "Extract entities, relationships, and events from text",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entities": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"name":        map[string]any{"type": "string"},
								"type":        map[string]any{"type": "string"},
								"description": map[string]any{"type": "string"},
							},
							"required": []string{"name", "type", "description"},
						},
					},
					"relationships": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"source":      map[string]any{"type": "string"},
								"target":      map[string]any{"type": "string"},
								"type":        map[string]any{"type": "string"},
								"description": map[string]any{"type": "string"},
								"weight":      map[string]any{"type": "number"},
							},
							"required": []string{"source", "target", "type", "description"},
						},
					},
					"events": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"primary_entity":  map[string]any{"type": "string"},
								"description":     map[string]any{"type": "string"},
								"raw_time":        map[string]any{"type": "string"},
								"normalized_date": map[string]any{"type": "string"},
							},
							"required": []string{"primary_entity", "description", "raw_time"},
						},
					},
				},
				"required": []string{"entities", "relationships", "events"},
			},
		},
	}
}

const corePrompt = `EXTRACT all significant entities, relationships, and CHRONOLOGICAL EVENTS.

**Guidelines:**
1. ENTITIES: Identify People, Organizations, Projects, Concepts, and Locations.
2. RELATIONSHIPS: Define explicit, typed relationships in UPPERCASE.
3. EVENTS: Extract specific occurrences with their original time descriptions.
   - Link event to its primary entity.
   - Try to normalize date to ISO 8601 (YYYY-MM-DD) if possible.
4. DESCRIPTIONS: Provide rich, factual descriptions for every node, edge, and event.

**Text to Analyze:**
%s`

const gleaningPrompt = `I have already extracted these entities: %s.

**Your Goal:**
Perform a second pass on text. Identify:
1. ANY entity or relationship not listed above.
2. Specific DATES or TIME-BOUND milestones that were skipped.
3. Chronological links between events.

**Constraint:** Only output NEW information.

**Text to Analyze:**
%s`

// gleaningNameLimit caps the already-seen entity names echoed into the
// second pass prompt.
const gleaningNameLimit = 60

// Extract runs both passes and merges the results. A failed pass yields an
// empty partial graph rather than an error, so one bad response never loses
// the other pass's output.
func (e *LLMExtractor) Extract(ctx context.Context, text string) (*Graph, error) {
	e.log.Info("starting extraction", zap.String("model", e.model))

	core := e.runPass(ctx,
		"You are a Senior Knowledge Graph Architect and Historian. Your task is to extract a comprehensive, high-fidelity graph and TIMELINE from unstructured text.",
		fmt.Sprintf(corePrompt, text))
	e.log.Info("core pass complete", zap.Int("entities", len(core.Entities)))

	names := make([]string, 0, gleaningNameLimit)
	for _, ent := range core.Entities {
		if len(names) == gleaningNameLimit {
			break
		}
		names = append(names, ent.Name)
	}
	namesJSON, _ := json.Marshal(names)

	gleaned := e.runPass(ctx,
		"You are a Detail-Oriented Forensic Auditor. Your goal is to find missed entities, subtle relationships, and overlooked TEMPORAL EVENTS.",
		fmt.Sprintf(gleaningPrompt, string(namesJSON), text))
	e.log.Info("gleaning pass complete", zap.Int("entities", len(gleaned.Entities)))

	merged := mergeGraphs(core, gleaned)
	e.log.Info("extraction complete",
		zap.Int("entities", len(merged.Entities)),
		zap.Int("relationships", len(merged.Relationships)),
		zap.Int("events", len(merged.Events)))
	if len(merged.Entities) == 0 {
		return nil, fmt.Errorf("extraction produced no entities")
	}
	return merged, nil
}

func (e *LLMExtractor) runPass(ctx context.Context, system, user string) *Graph {
	outcome, err := e.chat.Chat(ctx, llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Tools:      []llm.Tool{extractTool()},
		ToolChoice: "auto",
		MaxTokens:  e.MaxTokens,
	})
	if err != nil {
		e.log.Error("extraction pass failed", zap.Error(err))
		return &Graph{}
	}

	if outcome.Kind == llm.OutcomeToolCall && outcome.ToolName != extractToolName {
		e.log.Error("unexpected tool call", zap.String("tool", outcome.ToolName))
		return &Graph{}
	}
	raw, ok := outcome.JSONObject()
	if !ok {
		e.log.Error("no structured payload in extraction response")
		return &Graph{}
	}

	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		e.log.Error("failed to parse extraction payload", zap.Error(err))
		return &Graph{}
	}
	return &g
}

// mergeGraphs combines two passes. Entities dedupe on lowercased name,
// keeping the longer description; relationships dedupe on the
// (source, target, TYPE) triple; events dedupe on description.
func mergeGraphs(a, b *Graph) *Graph {
	merged := &Graph{}

	byName := make(map[string]int)
	for _, g := range []*Graph{a, b} {
		for _, ent := range g.Entities {
			key := strings.ToLower(ent.Name)
			if i, ok := byName[key]; ok {
				if len(ent.Description) > len(merged.Entities[i].Description) {
					merged.Entities[i].Description = ent.Description
				}
				continue
			}
			byName[key] = len(merged.Entities)
			merged.Entities = append(merged.Entities, ent)
		}
	}

	seenEdges := make(map[[3]string]bool)
	for _, g := range []*Graph{a, b} {
		for _, rel := range g.Relationships {
			key := [3]string{strings.ToLower(rel.Source), strings.ToLower(rel.Target), strings.ToUpper(rel.Type)}
			if seenEdges[key] {
				continue
			}
			seenEdges[key] = true
			merged.Relationships = append(merged.Relationships, rel)
		}
	}

	seenEvents := make(map[string]bool)
	for _, g := range []*Graph{a, b} {
		for _, ev := range g.Events {
			if seenEvents[ev.Description] {
				continue
			}
			seenEvents[ev.Description] = true
			merged.Events = append(merged.Events, ev)
		}
	}

	return merged
}
