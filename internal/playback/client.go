package playback

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

	"github.com/google/uuid"

	"github.com/reelgate/climaxpay-go/internal/model"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client talks to the paywall HTTP API on behalf of a viewer.
type Client struct {
	baseURL string
	hc      *http.Client
	token   string
}

// NewClient returns a client with a bounded per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), hc: &http.Client{Timeout: timeout}}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) { c.token = token }

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env struct {
			Error *APIError `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&env) == nil && env.Error != nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	return json.NewDecoder(resp.Body).Decode(&env)
}

// Login exchanges credentials for an access token and keeps it.
func (c *Client) Login(ctx context.Context, email, password string) (*model.TokenResponse, error) {
	var out model.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", model.LoginRequest{Email: email, Password: password}, nil, &out); err != nil {
		return nil, err
	}
	c.token = out.AccessToken
	return &out, nil
}

// Content loads the title's metadata.
func (c *Client) Content(ctx context.Context, id string) (*model.ContentItem, error) {
	var out model.ContentItem
	if err := c.do(ctx, http.MethodGet, "/contents/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Playback resolves the stream URL and gating parameters.
func (c *Client) Playback(ctx context.Context, id string) (*model.PlaybackInfo, error) {
	var out model.PlaybackInfo
	if err := c.do(ctx, http.MethodGet, "/contents/"+url.PathEscape(id)+"/playback", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Initiate starts a purchase. Each call carries a fresh idempotency key.
func (c *Client) Initiate(ctx context.Context, req model.InitiateRequest) (*model.InitiateResponse, error) {
	var out model.InitiateResponse
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := c.do(ctx, http.MethodPost, "/payments/initiate", req, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckUnlocked implements UnlockChecker over GET /payments/check.
func (c *Client) CheckUnlocked(ctx context.Context, userID, contentID string) (bool, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("contentId", contentID)
	var out model.CheckResponse
	if err := c.do(ctx, http.MethodGet, "/payments/check?"+q.Encode(), nil, nil, &out); err != nil {
		return false, err
	}
	return out.Paid, nil
}

// DefaultCheckTimeout bounds one unlock check when APIChecker.Timeout is unset.
const DefaultCheckTimeout = 3 * time.Second

// APIChecker is an UnlockChecker backed by the HTTP API. Each check is
// bounded by Timeout regardless of the client's request timeout.
type APIChecker struct {
	Client  *Client
	Timeout time.Duration
}

func (a APIChecker) CheckUnlocked(ctx context.Context, userID, contentID string) (bool, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Client.CheckUnlocked(ctx, userID, contentID)
}
