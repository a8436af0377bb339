// Package ory implements session verification against an Ory Kratos-compatible
// whoami endpoint. The registry holds no session keys in this mode: the raw
// Cookie header is forwarded to the identity service, which either describes
// the session or rejects it.
package ory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/identity"
)

const defaultTimeout = 5 * time.Second

// Client calls the sessions/whoami endpoint.
type Client struct {
	whoamiURL string
	http      *http.Client
}

// NewClient builds a whoami client from the ory identity configuration.
func NewClient(cfg *config.OryConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		whoamiURL: cfg.WhoamiURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// whoamiResponse is the subset of the Kratos session payload we consume.
type whoamiResponse struct {
	Active   bool `json:"active"`
	Identity struct {
		ID     string `json:"id"`
		Traits struct {
			Email string `json:"email"`
		} `json:"traits"`
	} `json:"identity"`
}

// Verify forwards the caller's cookies to the whoami endpoint.
//
// 401 means "no valid session" and maps to (nil, nil) so the caller proceeds
// anonymously. Any other failure — transport error, 5xx, malformed body — is
// returned as an error: an unreachable identity service must fail requests,
// not silently downgrade them to anonymous.
func (c *Client) Verify(ctx context.Context, cookieHeader string) (*identity.Session, error) {
	if cookieHeader == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.whoamiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build whoami request: %w", err)
	}
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whoami request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// Drain so the connection can be reused, then surface the status.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whoami returned unexpected status %d", resp.StatusCode)
	}

	var body whoamiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode whoami response: %w", err)
	}

	if !body.Active || body.Identity.ID == "" {
		return nil, nil
	}

	return &identity.Session{
		IdentityID: body.Identity.ID,
		Email:      body.Identity.Traits.Email,
	}, nil
}
