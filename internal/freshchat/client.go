// ABOUTME: Minimal Freshchat REST client for user directory lookups.
// ABOUTME: The dispatcher uses it to qualify inbound senders before buffering.

package freshchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Property is one custom key/value pair on a Freshchat user profile.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// User is a Freshchat user profile, trimmed to the fields we read.
type User struct {
	ID         string     `json:"id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Email      string     `json:"email"`
	Avatar     Avatar     `json:"avatar"`
	Properties []Property `json:"properties"`
}

// Avatar holds the profile picture URL.
type Avatar struct {
	URL string `json:"url"`
}

// Property returns the named custom property's value, or "" if absent.
func (u *User) Property(name string) string {
	for _, p := range u.Properties {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// FullName joins first and last name, tolerating either being empty.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Config holds the Freshchat API endpoint and credentials.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client fetches user profiles from the Freshchat API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Freshchat client. Pass nil logger for the default.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger.With("component", "freshchat"),
	}
}

// GetUser fetches one user profile by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	endpoint := fmt.Sprintf("%s/v2/users/%s", c.baseURL, url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetching user %s: status %d: %s", userID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", userID, err)
	}

	c.logger.Debug("fetched user", "user_id", userID, "email", user.Email)
	return &user, nil
}
