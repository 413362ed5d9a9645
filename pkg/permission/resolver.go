package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// Resolver snapshots a caller's capability set from the authorization
// backend. Resolution happens once per session creation; the snapshot is
// frozen for the session's lifetime.
type Resolver interface {
	Resolve(ctx context.Context, identity string) (Set, error)
}

// BackendConfig holds backend resolver configuration
type BackendConfig struct {
	// Endpoint is the base URL of the authorization backend.
	Endpoint string
	// Token authenticates this service to the backend, if set.
	Token string
	// Timeout bounds a single resolution round-trip.
	Timeout time.Duration
}

// BackendResolver queries the build platform's authorization endpoint
// over HTTP. Failures never widen capability: callers receive an empty
// set alongside the error.
type BackendResolver struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewBackendResolver creates a new backend resolver
func NewBackendResolver(cfg BackendConfig) (*BackendResolver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("authorization endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid authorization endpoint: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &BackendResolver{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// permissionsResponse is the backend's wire shape.
type permissionsResponse struct {
	Identity    string   `json:"identity"`
	Permissions []string `json:"permissions"`
}

// Resolve fetches the capability set for identity.
func (r *BackendResolver) Resolve(ctx context.Context, identity string) (Set, error) {
	if identity == "" {
		return NewSet(), fmt.Errorf("identity cannot be empty")
	}

	endpoint := fmt.Sprintf("%s/api/v1/identities/%s/permissions", r.endpoint, url.PathEscape(identity))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return NewSet(), fmt.Errorf("failed to build permissions request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return NewSet(), fmt.Errorf("authorization backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown identity carries no capability.
		log.Warn().Str("identity", identity).Msg("Identity unknown to authorization backend")
		return NewSet(), nil
	}
	if resp.StatusCode != http.StatusOK {
		return NewSet(), fmt.Errorf("authorization backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewSet(), fmt.Errorf("failed to read permissions response: %w", err)
	}

	var parsed permissionsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return NewSet(), fmt.Errorf("failed to parse permissions response: %w", err)
	}

	set := FromStrings(parsed.Permissions)
	log.Debug().
		Str("identity", identity).
		Int("permissions", len(set)).
		Msg("Resolved capability snapshot")

	return set, nil
}
