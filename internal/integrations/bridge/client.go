// Package bridge talks to the user-session sidecar that holds the chat login.
// The sidecar posts inbound messages to the handler package and accepts
// outbound text and button presses here.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"autograb/internal/integrations/paramstore"
)

const defaultTimeout = 10 * time.Second

type sendRequest struct {
	Peer string `json:"peer"`
	Text string `json:"text"`
}

type pressRequest struct {
	Peer string `json:"peer"`
	Ref  string `json:"ref"`
}

// ackResponse is the sidecar's reply to every outbound call.
type ackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// tokenPayload is the expected JSON shape stored in SSM for the bridge token.
type tokenPayload struct {
	Token string `json:"token"`
}

// HTTPStatusError captures non-2xx sidecar responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("bridge: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends outbound actions to the counter-party through the sidecar.
type Client struct {
	baseURL    string
	peer       string
	httpClient *http.Client

	getter      paramstore.Getter
	paramPrefix string

	tokenMu sync.Mutex
	token   string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenFrom makes the client authenticate with a bearer token read from
// SSM at <prefix>/bridge-token on first use.
func WithTokenFrom(ps paramstore.Getter, paramPrefix string) Option {
	return func(c *Client) {
		c.getter = ps
		c.paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	}
}

// NewClient creates a Client that addresses peer through the sidecar at baseURL.
func NewClient(baseURL, peer string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("bridge: base url must not be empty")
	}
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return nil, errors.New("bridge: peer must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		peer:       peer,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.getter != nil && c.paramPrefix == "" {
		return nil, errors.New("bridge: parameter prefix must not be empty")
	}
	return c, nil
}

// SendText posts a plain text message to the peer.
func (c *Client) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("bridge: text must not be empty")
	}
	if err := c.post(ctx, "/v1/messages", sendRequest{Peer: c.peer, Text: text}); err != nil {
		return fmt.Errorf("bridge: send text: %w", err)
	}
	return nil
}

// TriggerAccept presses the affordance identified by ref.
func (c *Client) TriggerAccept(ctx context.Context, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return errors.New("bridge: affordance ref must not be empty")
	}
	if err := c.post(ctx, "/v1/affordances/press", pressRequest{Peer: c.peer, Ref: ref}); err != nil {
		return fmt.Errorf("bridge: press affordance: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.getter != nil {
		token, err := c.resolveToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	var ack ackResponse
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !ack.OK {
		if ack.Error == "" {
			ack.Error = "not acknowledged"
		}
		return fmt.Errorf("sidecar rejected request: %s", ack.Error)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// resolveToken fetches the token from SSM until one fetch succeeds and caches
// that token for the lifetime of the process. Failures are not cached.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := fetchToken(ctx, c.getter, paramstore.Name(c.paramPrefix, "bridge-token"))
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func fetchToken(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("bridge: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("bridge: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("bridge: token is empty")
	}
	return tp.Token, nil
}
