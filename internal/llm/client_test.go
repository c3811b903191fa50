package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vthunder/kgraph/internal/resilience"
)

func testGuard() *resilience.Guard {
	return resilience.New("test-chat", resilience.Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Second,
		MaxRetries:       0,
		RetryDelay:       time.Millisecond,
	}, nil)
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestChatClassifiesToolCall(t *testing.T) {
	srv := serve(t, `{"choices":[{"message":{"tool_calls":[
		{"function":{"name":"extract_knowledge_graph","arguments":"{\"entities\":[]}"}}
	]}}]}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", testGuard(), nil)
	out, err := c.Chat(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeToolCall, out.Kind)
	assert.Equal(t, "extract_knowledge_graph", out.ToolName)

	obj, ok := out.JSONObject()
	require.True(t, ok)
	assert.JSONEq(t, `{"entities":[]}`, string(obj))
}

func TestChatClassifiesContent(t *testing.T) {
	srv := serve(t, `{"choices":[{"message":{"content":"{\"decision\":\"MERGE\"}"}}]}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", testGuard(), nil)
	out, err := c.Chat(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeContent, out.Kind)
	obj, ok := out.JSONObject()
	require.True(t, ok)
	assert.JSONEq(t, `{"decision":"MERGE"}`, string(obj))
}

func TestChatClassifiesEmpty(t *testing.T) {
	srv := serve(t, `{"choices":[{"message":{"content":"  "}}]}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", testGuard(), nil)
	out, err := c.Chat(context.Background(), Request{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeEmpty, out.Kind)
	_, ok := out.JSONObject()
	assert.False(t, ok)
}

func TestChatSurfacesAPIError(t *testing.T) {
	srv := serve(t, `{"error":{"message":"model not supported"}}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", testGuard(), nil)
	_, err := c.Chat(context.Background(), Request{Model: "m"})
	assert.ErrorContains(t, err, "model not supported")
}

func TestChatFailsFastWhenCircuitOpen(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testGuard(), nil)
	for i := 0; i < 3; i++ {
		_, err := c.Chat(context.Background(), Request{Model: "m"})
		require.Error(t, err)
	}
	before := calls

	_, err := c.Chat(context.Background(), Request{Model: "m"})
	assert.ErrorIs(t, err, resilience.ErrUnavailable)
	assert.Equal(t, before, calls, "open circuit must not hit the network")
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "here you go:\n```json\n{\"a\": 1}\n```\nthanks", `{"a": 1}`, true},
		{"embedded", `The answer is {"a":1} as requested.`, `{"a":1}`, true},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`, true},
		{"no json", "sorry, I can't do that", "", false},
		{"malformed", `{"a":`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSONObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				var a, b any
				require.NoError(t, json.Unmarshal([]byte(tt.want), &a))
				require.NoError(t, json.Unmarshal(got, &b))
				assert.Equal(t, a, b)
			}
		})
	}
}
