// ABOUTME: Tests for the analysis client
// ABOUTME: Covers templated-reply parsing and the never-fail fallback contract

package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestAnalyze_ParsesTemplatedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "my order never arrived!", req.Messages[1].Content)

		json.NewEncoder(w).Encode(completionReply(
			"*State of Emotion:* frustrated\n*User Tone:* negative\n*Priority Level:* urgent\n*Emoji Suggestion:* 😤",
		))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini"}, nil)

	res := c.Analyze(context.Background(), "my order never arrived!")
	assert.Equal(t, "frustrated", res.StateOfEmotion)
	assert.Equal(t, "negative", res.UserTone)
	assert.Equal(t, "urgent", res.PriorityLevel)
	assert.Equal(t, "😤", res.EmojiSuggestion)
}

func TestAnalyze_PartialReplyKeepsDefaultsForMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionReply("*User Tone:* positive\nno other structure here"))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)

	res := c.Analyze(context.Background(), "thanks!")
	assert.Equal(t, "positive", res.UserTone)
	assert.Equal(t, "neutral", res.StateOfEmotion)
	assert.Equal(t, "low", res.PriorityLevel)
	assert.Equal(t, "💬", res.EmojiSuggestion)
}

func TestAnalyze_ServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)

	assert.Equal(t, Fallback(), c.Analyze(context.Background(), "hello"))
}

func TestAnalyze_UnreachableEndpointFallsBack(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "gpt-4o-mini"}, nil)
	assert.Equal(t, Fallback(), c.Analyze(context.Background(), "hello"))
}

func TestAnalyze_EmptyChoicesFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)
	assert.Equal(t, Fallback(), c.Analyze(context.Background(), "hello"))
}
