// ABOUTME: Adapter around an OpenAI-compatible chat-completions endpoint for message analysis.
// ABOUTME: Classifies emotion, tone, priority, and a suggested emoji; falls back to neutral defaults on failure.

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Result is the sentiment/priority classification attached to a flushed
// conversation batch.
type Result struct {
	StateOfEmotion  string `json:"state_of_emotion"`
	UserTone        string `json:"user_tone"`
	PriorityLevel   string `json:"priority_level"`
	EmojiSuggestion string `json:"emoji_suggestion"`
}

// Fallback is returned whenever the classification call fails. A failure must
// never block the flush pipeline, so Analyze reports this instead of an error.
func Fallback() Result {
	return Result{
		StateOfEmotion:  "neutral",
		UserTone:        "neutral",
		PriorityLevel:   "low",
		EmojiSuggestion: "💬",
	}
}

const systemPrompt = `You are a professional and helpful assistant who can analyze the user's message and determine the following information:
1. The emotional state the message contains or represents (e.g. angry, sad, happy, etc.).
2. Understanding the tone of the user (e.g. positive, negative, neutral).
3. Determine the urgency and priority level of the message (e.g. urgent, less urgent, no priority).

Provide the results in the following format so that I can easily process them:
*State of Emotion:* [State of Emotion]
*User Tone:* [Tone]
*Priority Level:* [Priority Level]
*Emoji Suggestion:* [Emoji]

Please return the answer in a clear, concise and structured way.`

var (
	emotionRe  = regexp.MustCompile(`\*State of Emotion:\* (.*)`)
	toneRe     = regexp.MustCompile(`\*User Tone:\* (.*)`)
	priorityRe = regexp.MustCompile(`\*Priority Level:\* (.*)`)
	emojiRe    = regexp.MustCompile(`\*Emoji Suggestion:\* (.*)`)
)

// Config holds connection settings for the classification endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates an analysis client. Pass nil logger for the default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "analysis"),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Analyze classifies the given text. It never returns an error: any failure
// (transport, non-2xx status, unparseable body) yields Fallback().
func (c *Client) Analyze(ctx context.Context, text string) Result {
	content, err := c.complete(ctx, text)
	if err != nil {
		c.logger.Error("analysis call failed, using fallback", "error", err)
		return Fallback()
	}
	return parseResult(content)
}

func (c *Client) complete(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling completion endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a short prefix for the log; the body is not otherwise useful.
		prefix, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(prefix)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseResult extracts the structured fields from the model's templated reply.
// Missing fields fall back to the neutral defaults individually.
func parseResult(content string) Result {
	res := Fallback()
	if m := emotionRe.FindStringSubmatch(content); m != nil {
		res.StateOfEmotion = strings.TrimSpace(m[1])
	}
	if m := toneRe.FindStringSubmatch(content); m != nil {
		res.UserTone = strings.TrimSpace(m[1])
	}
	if m := priorityRe.FindStringSubmatch(content); m != nil {
		res.PriorityLevel = strings.TrimSpace(m[1])
	}
	if m := emojiRe.FindStringSubmatch(content); m != nil {
		res.EmojiSuggestion = strings.TrimSpace(m[1])
	}
	return res
}
