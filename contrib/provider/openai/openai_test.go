package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func completionServer(t *testing.T, content string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
			t.Errorf("Decode request failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInvokeSendsSystemAndPrompt(t *testing.T) {
	var seen chatRequest
	srv := completionServer(t, "question", &seen)

	cfg := DefaultConfig().WithAPIKey("test").WithBaseURL(srv.URL)
	cfg.System = "be brief"
	out, err := New(cfg).Invoke(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out != "question" {
		t.Errorf("Expected completion text, got %q", out)
	}
	if len(seen.Messages) != 2 || seen.Messages[0].Role != "system" || seen.Messages[1].Content != "classify this" {
		t.Errorf("Unexpected messages %+v", seen.Messages)
	}
	if seen.Model != "gpt-4o-mini" {
		t.Errorf("Unexpected model %q", seen.Model)
	}
}

func TestInvokeEmptyCompletion(t *testing.T) {
	var seen chatRequest
	srv := completionServer(t, "  ", &seen)

	_, err := New(DefaultConfig().WithAPIKey("test").WithBaseURL(srv.URL)).Invoke(context.Background(), "hi")
	if !errors.Is(err, errorspkg.ErrEmptyCompletion) {
		t.Errorf("Expected ErrEmptyCompletion, got %v", err)
	}
}

func TestInvokeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig().WithAPIKey("bad").WithBaseURL(srv.URL)
	cfg.MaxRetries = 0
	if _, err := New(cfg).Invoke(context.Background(), "hi"); err == nil {
		t.Errorf("Expected error for 401 response")
	}
}
