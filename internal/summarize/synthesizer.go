package summarize

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/embed"
	"github.com/vthunder/kgraph/internal/llm"
)

// Finding is one concrete insight inside a community report.
type Finding struct {
	Summary     string `json:"summary"`
	Explanation string `json:"explanation"`
}

// Report is the synthesized narrative for one community.
type Report struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Rating   float64   `json:"rating"`
	Findings []Finding `json:"findings"`
}

// ChatClient is the slice of the chat API the synthesizer needs.
type ChatClient interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Outcome, error)
}

// Synthesizer writes community reports level by level.
type Synthesizer struct {
	store    Store
	chat     ChatClient
	embedder embed.Embedder
	model    string
	log      *zap.Logger

	// MaxTokens and Temperature apply to every report request.
	MaxTokens   int
	Temperature float64
}

// NewSynthesizer creates a synthesizer. The embedder indexes each finished
// report for semantic search over communities.
func NewSynthesizer(st Store, chat ChatClient, embedder embed.Embedder, model string, log *zap.Logger) *Synthesizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{
		store:       st,
		chat:        chat,
		embedder:    embedder,
		model:       model,
		log:         log,
		MaxTokens:   4000,
		Temperature: 0.3,
	}
}

// SummarizeAll processes every community, level 0 upward, so parents always
// see finished child summaries. One community failing never blocks the
// rest; it simply keeps its placeholder summary.
func (s *Synthesizer) SummarizeAll(ctx context.Context) error {
	maxLevel, err := s.store.MaxCommunityLevel()
	if err != nil {
		return fmt.Errorf("failed to read max level: %w", err)
	}
	if maxLevel < 0 {
		s.log.Info("no communities to summarize")
		return nil
	}
	s.log.Info("starting recursive summarization", zap.Int("max_level", maxLevel))

	for level := 0; level <= maxLevel; level++ {
		ids, err := s.store.CommunitiesAtLevel(level)
		if err != nil {
			return fmt.Errorf("failed to list level %d: %w", level, err)
		}
		s.log.Info("processing level", zap.Int("level", level), zap.Int("communities", len(ids)))

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := s.summarizeOne(ctx, id, level); err != nil {
				s.log.Error("community summarization failed",
					zap.String("community", id), zap.Int("level", level), zap.Error(err))
			}
		}
	}
	return nil
}

const analystSystem = "You are an expert Intelligence Analyst. Your goal is to synthesize structured data into a comprehensive report. You do not speak. You only output valid JSON."

const reportPromptFormat = `**Task:** Analyze provided entities and relationships to generate a Community Report.

**Context (Entities & Relations):**
%s

**CRITICAL INSTRUCTION:**
Output ONLY a valid JSON object matching the structure below.
Do NOT include markdown formatting.

**Required JSON Structure:**
{
    "title": "Descriptive Title",
    "summary": "High-level executive summary...",
    "rating": 8.5,
    "findings": [
        {"summary": "Key insight 1", "explanation": "Detailed explanation..."},
        {"summary": "Key insight 2", "explanation": "Detailed explanation..."}
    ]
}`

func (s *Synthesizer) summarizeOne(ctx context.Context, communityID string, level int) error {
	contextText, err := gatherContext(s.store, communityID, level)
	if err != nil {
		return err
	}
	if contextText == "" {
		s.log.Warn("no context for community, skipping", zap.String("community", communityID))
		return nil
	}

	outcome, err := s.chat.Chat(ctx, llm.Request{
		Model: s.model,
		Messages: []llm.Message{
			{Role: "system", Content: analystSystem},
			{Role: "user", Content: fmt.Sprintf(reportPromptFormat, contextText)},
		},
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("report generation failed: %w", err)
	}

	raw, ok := outcome.JSONObject()
	if !ok {
		return fmt.Errorf("no JSON object in report response")
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return fmt.Errorf("failed to parse report: %w", err)
	}
	if report.Title == "" || report.Summary == "" {
		return fmt.Errorf("report missing title or summary")
	}

	// The summary embedding enables semantic search across communities.
	// An embedding failure doesn't discard the report.
	var embedding []float64
	if s.embedder != nil {
		embedding, err = s.embedder.Embed(ctx, report.Title+" "+report.Summary)
		if err != nil {
			s.log.Warn("failed to embed report", zap.String("community", communityID), zap.Error(err))
			embedding = nil
		}
	}

	fullContent, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := s.store.UpdateCommunityReport(communityID, report.Title, report.Summary, string(fullContent), embedding); err != nil {
		return err
	}
	s.log.Info("report generated",
		zap.String("community", communityID), zap.String("title", report.Title))
	return nil
}
