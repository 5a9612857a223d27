package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fokalhq/fokal/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComplete_ToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", r.Header.Get("Authorization"))
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "create_lead" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}

		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"function": {"name": "create_lead", "arguments": "{\"name\":\"Ada\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "gpt-test", testLogger(), WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), &llm.Request{
		SystemPrompt: "you are a studio assistant",
		UserMessage:  "add Ada as a lead",
		Tools:        []llm.ToolDefinition{{Name: "create_lead", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if !resp.HasToolCalls() {
		t.Fatal("expected a tool call")
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "create_lead" {
		t.Errorf("tool = %q", tc.Name)
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Arguments, &args); err != nil || args["name"] != "Ada" {
		t.Errorf("arguments = %s (err %v)", tc.Arguments, err)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestComplete_TextReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "Your next session is Friday."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 8, "completion_tokens": 7}
		}`))
	}))
	defer srv.Close()

	c := NewClient("k", "m", testLogger(), WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), &llm.Request{UserMessage: "when is my next session?"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.HasToolCalls() {
		t.Error("unexpected tool calls")
	}
	if resp.Text != "Your next session is Friday." {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestComplete_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", "m", testLogger(), WithBaseURL(srv.URL))
	if _, err := c.Complete(context.Background(), &llm.Request{UserMessage: "hi"}); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
