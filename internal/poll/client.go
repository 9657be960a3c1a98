package poll

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/stakelight/ledgersync/internal/adapter"
	"github.com/stakelight/ledgersync/internal/domain"
)

// Client fetches the current authoritative state for one domain. The
// backend is opaque; these are plain "list current state" calls.
//
//go:generate mockgen -source=client.go -destination=../mocks/poll_client.go -package=mocks -mock_names=Client=MockPollClient
type Client interface {
	Fetch(ctx context.Context, dom domain.Domain) ([]*domain.Fragment, error)
}

// TokenProvider supplies the session token attached to poll requests.
// Token issuance and refresh are external to the engine.
type TokenProvider func() string

// endpointPaths maps each domain to its list endpoint
var endpointPaths = map[domain.Domain]string{
	domain.DomainTransactions: "/v1/transactions",
	domain.DomainStaking:      "/v1/staking/positions",
	domain.DomainAdmin:        "/v1/admin/stats",
}

// listResponse is the wire shape of every list endpoint
type listResponse struct {
	Items []*domain.Fragment `json:"items"`
}

// httpPollClient implements Client over the backend's REST endpoints
type httpPollClient struct {
	http    adapter.HTTPClient
	baseURL string
	token   TokenProvider
}

// NewHTTPClient creates a poll client for the given backend base URL
func NewHTTPClient(httpClient adapter.HTTPClient, baseURL string, token TokenProvider) Client {
	return &httpPollClient{
		http:    httpClient,
		baseURL: baseURL,
		token:   token,
	}
}

// Fetch lists the current state for the domain
func (c *httpPollClient) Fetch(ctx context.Context, dom domain.Domain) ([]*domain.Fragment, error) {
	path, ok := endpointPaths[dom]
	if !ok {
		return nil, fmt.Errorf("no poll endpoint for domain %q", dom)
	}

	headers := map[string]string{
		"Accept":       "application/json",
		"X-Request-Id": uuid.NewString(),
	}
	if c.token != nil {
		if t := c.token(); t != "" {
			headers["Authorization"] = "Bearer " + t
		}
	}

	var resp listResponse
	if err := c.http.Get(ctx, c.baseURL+path, headers, &resp); err != nil {
		return nil, fmt.Errorf("failed to poll %s: %w", dom, err)
	}

	return resp.Items, nil
}
