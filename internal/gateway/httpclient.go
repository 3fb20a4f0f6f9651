package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	errordefs "github.com/reelgate/climaxpay-go/internal/errors"
	"github.com/reelgate/climaxpay-go/internal/schema"
)

const maxResponseBytes = 1 << 20

// NewHTTPClient returns the client shared by adapters. timeout bounds every
// provider call end to end.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

// caller performs JSON calls on behalf of one adapter.
type caller struct {
	gateway string
	hc      *http.Client
}

// do sends req, checks the status, validates the body against shape and
// decodes it into out. All failures come back in the canonical taxonomy.
func (c caller) do(req *http.Request, shape string, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransport(c.gateway, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(c.gateway, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errordefs.GatewayUnavailable(c.gateway, fmt.Errorf("provider returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return errordefs.GatewayFailed(c.gateway, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(body, 256)))
	}

	if shape != "" {
		if err := schema.Default().Validate(shape, body); err != nil {
			return errordefs.GatewayFailed(c.gateway, err)
		}
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return errordefs.GatewayFailed(c.gateway, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// classifyTransport separates deadline expiry from other connectivity failures.
func classifyTransport(gateway string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return errordefs.GatewayTimeout(gateway, err)
	}
	return errordefs.GatewayUnavailable(gateway, err)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
