package matchmaker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// HTTPAdvertiser implements the Advertiser interface against an HTTP matchmaking service.
type HTTPAdvertiser struct {
	client   *http.Client
	endpoint string
}

// NewHTTPAdvertiser wires an HTTP client to the remote matchmaking endpoint.
func NewHTTPAdvertiser(endpoint string, client *http.Client) (*HTTPAdvertiser, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	//1.- Reuse the provided client when available so callers can inject transport tweaks.
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdvertiser{endpoint: endpoint, client: client}, nil
}

// Advertise posts the listing and returns whether the service claims the session.
func (a *HTTPAdvertiser) Advertise(ctx context.Context, listing Listing) (bool, error) {
	if a == nil {
		return false, errors.New("advertiser is nil")
	}
	body, err := json.Marshal(listing)
	if err != nil {
		return false, fmt.Errorf("marshal listing: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("send listing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("matchmaker responded with status %s", resp.Status)
	}
	var decoded struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return decoded.Active, nil
}
