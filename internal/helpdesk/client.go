package helpdesk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProductToken identifies this service to the helpdesk. The helpdesk echoes
// the User-Agent into each comment's metadata.system.client, which is how
// inbound sync recognizes its own comments.
const ProductToken = "ticketbridge"

// Version is stamped into the User-Agent. Overridden at build time.
var Version = "dev"

// UserAgent returns the identifying signature attached to every request.
func UserAgent() string {
	return ProductToken + "/" + Version
}

// Credentials authenticate against one helpdesk account. OAuthToken wins
// over Email+APIToken when both are set.
type Credentials struct {
	Subdomain  string
	Email      string
	APIToken   string
	OAuthToken string
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// Client talks to the helpdesk REST API (v2).
type Client struct {
	creds      Credentials
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:      creds,
		baseURL:    fmt.Sprintf("https://%s.zendesk.com", creds.Subdomain),
		userAgent:  UserAgent(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Subdomain() string { return c.creds.Subdomain }

func (c *Client) authorization() string {
	if c.creds.OAuthToken != "" {
		return "Bearer " + c.creds.OAuthToken
	}
	raw := c.creds.Email + "/token:" + c.creds.APIToken
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", c.authorization())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     reasonPhrase(resp),
			Body:       respBody,
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// APIError is a non-2xx response from the helpdesk.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string // reason phrase
	Body       []byte
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("zendesk %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Status)
	if len(e.Body) > 0 {
		body := string(e.Body)
		if len(body) > 512 {
			body = body[:512] + "..."
		}
		msg += ": " + body
	}
	return msg
}

// HTTPStatus lets the retry package classify the error.
func (e *APIError) HTTPStatus() int { return e.StatusCode }
