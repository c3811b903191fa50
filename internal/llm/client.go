// Package llm provides a minimal client for OpenAI-compatible chat
// completion endpoints. Responses arrive either as tool-call payloads or as
// free-text content expected to hold a single JSON object; both shapes are
// surfaced through an explicit Outcome variant so callers never inspect the
// raw wire format.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vthunder/kgraph/internal/resilience"
)

// Message is a role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is the schema half of a Tool definition.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is a chat completion request.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	ToolChoice  string    `json:"tool_choice,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// OutcomeKind tags the shape of a completed response.
type OutcomeKind int

const (
	// OutcomeEmpty means the model produced neither a tool call nor content.
	OutcomeEmpty OutcomeKind = iota
	// OutcomeToolCall means the model answered with a function call payload.
	OutcomeToolCall
	// OutcomeContent means the model answered with free text.
	OutcomeContent
)

// Outcome is the tagged result of a chat completion. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Outcome struct {
	Kind     OutcomeKind
	ToolName string
	ToolArgs json.RawMessage
	Content  string
}

// JSONObject returns the first well-formed JSON object carried by the
// outcome: tool-call arguments directly, or the outermost object embedded in
// free-text content (including inside a markdown code fence). ok is false
// when no object can be recovered.
func (o *Outcome) JSONObject() (json.RawMessage, bool) {
	switch o.Kind {
	case OutcomeToolCall:
		if json.Valid(o.ToolArgs) {
			return o.ToolArgs, true
		}
		return nil, false
	case OutcomeContent:
		return ExtractJSONObject(o.Content)
	default:
		return nil, false
	}
}

// wire types for the /chat/completions response
type completionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to one OpenAI-compatible endpoint. All calls pass through the
// injected resilience guard.
type Client struct {
	baseURL string
	apiKey  string
	guard   *resilience.Guard
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a chat client. baseURL is the API root (".../v1"). The
// guard is required; a nil logger falls back to a no-op logger.
func NewClient(baseURL, apiKey string, guard *resilience.Guard, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		guard:   guard,
		http:    &http.Client{Timeout: 60 * time.Second},
		log:     log,
	}
}

// Chat sends a completion request and classifies the response. The strategy
// chain is ordered: tool calls win over content, content over empty.
func (c *Client) Chat(ctx context.Context, req Request) (*Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var parsed completionResponse
	err = c.guard.Do(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("chat request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("chat error (status %d): %s", resp.StatusCode, string(b))
		}
		parsed = completionResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if parsed.Error != nil {
			return fmt.Errorf("chat error: %s", parsed.Error.Message)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(parsed.Choices) == 0 {
		return &Outcome{Kind: OutcomeEmpty}, nil
	}

	msg := parsed.Choices[0].Message
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		return &Outcome{
			Kind:     OutcomeToolCall,
			ToolName: call.Function.Name,
			ToolArgs: json.RawMessage(call.Function.Arguments),
		}, nil
	}
	if strings.TrimSpace(msg.Content) != "" {
		return &Outcome{Kind: OutcomeContent, Content: msg.Content}, nil
	}
	return &Outcome{Kind: OutcomeEmpty}, nil
}

// ExtractJSONObject recovers a JSON object from free text. It tries a
// ```json code fence first, then falls back to the outermost brace pair.
func ExtractJSONObject(s string) (json.RawMessage, bool) {
	if start := strings.Index(s, "```json"); start != -1 {
		rest := s[start+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			candidate := strings.TrimSpace(rest[:end])
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), true
			}
		}
	}

	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last <= first {
		return nil, false
	}
	candidate := s[first : last+1]
	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), true
	}
	return nil, false
}
