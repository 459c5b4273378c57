package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/internal/retry"
)

const DefaultBaseURL = "https://slack.com/api"

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// Client is a minimal chat platform Web API client authenticated with a bot
// token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	retry      retry.RetryConfig
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zerolog.Nop(),
		retry:      retry.ChatPostRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PostMessageRequest posts into a channel, or into a thread when ThreadTS
// is set. Username and IconURL override the bot's identity.
type PostMessageRequest struct {
	Channel  string  `json:"channel"`
	ThreadTS string  `json:"thread_ts,omitempty"`
	Text     string  `json:"text"`
	Username string  `json:"username,omitempty"`
	IconURL  string  `json:"icon_url,omitempty"`
	Blocks   []Block `json:"blocks,omitempty"`
}

// PostMessage sends req, retrying transient failures, and returns the new
// message's timestamp id.
func (c *Client) PostMessage(ctx context.Context, req PostMessageRequest) (string, error) {
	var resp struct {
		envelope
		TS string `json:"ts"`
	}
	result := retry.RetryWithBackoff(ctx, c.retry, func() error {
		return c.call(ctx, http.MethodPost, "chat.postMessage", nil, req, &resp)
	}, &c.logger)
	if !result.Success {
		return "", result.LastError
	}
	return resp.TS, nil
}

type UserProfile struct {
	ID          string
	Name        string
	DisplayName string
	RealName    string
	Email       string
	AvatarURL   string
}

func (c *Client) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var resp struct {
		envelope
		User struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			RealName string `json:"real_name"`
			Profile  struct {
				DisplayName string `json:"display_name"`
				RealName    string `json:"real_name"`
				Email       string `json:"email"`
				Image192    string `json:"image_192"`
			} `json:"profile"`
		} `json:"user"`
	}
	q := url.Values{"user": {userID}}
	if err := c.call(ctx, http.MethodGet, "users.info", q, nil, &resp); err != nil {
		return nil, err
	}
	u := resp.User
	realName := u.Profile.RealName
	if realName == "" {
		realName = u.RealName
	}
	return &UserProfile{
		ID:          u.ID,
		Name:        u.Name,
		DisplayName: u.Profile.DisplayName,
		RealName:    realName,
		Email:       u.Profile.Email,
		AvatarURL:   u.Profile.Image192,
	}, nil
}

type envelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (e envelope) failure() (bool, string) { return !e.OK, e.Error }

type failer interface {
	failure() (bool, string)
}

func (c *Client) call(ctx context.Context, method, apiMethod string, query url.Values, in any, out failer) error {
	endpoint := c.baseURL + "/" + apiMethod
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", apiMethod, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", apiMethod, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", apiMethod, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", apiMethod, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: apiMethod, StatusCode: resp.StatusCode, Code: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", apiMethod, err)
	}
	if failed, code := out.failure(); failed {
		return &APIError{Method: apiMethod, StatusCode: resp.StatusCode, Code: code}
	}
	return nil
}

// APIError is either a non-2xx response or an ok=false envelope.
type APIError struct {
	Method     string
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat %s: %d %s", e.Method, e.StatusCode, e.Code)
}

func (e *APIError) HTTPStatus() int { return e.StatusCode }
