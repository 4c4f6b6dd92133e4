package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// GraphRefresher exchanges long-lived tokens against the Graph API refresh endpoint.
type GraphRefresher struct {
	baseURL string
	client  *http.Client
}

func NewGraphRefresher(baseURL string) *GraphRefresher {
	return &GraphRefresher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (r *GraphRefresher) Refresh(ctx context.Context, accessToken string) (*Refreshed, error) {
	query := url.Values{}
	query.Set("grant_type", "ig_refresh_token")
	query.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/refresh_access_token?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	var decoded refreshResponse

	err = json.Unmarshal(body, &decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode refresh response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || decoded.Error != nil {
		if decoded.Error != nil {
			return nil, fmt.Errorf("refresh rejected with status %d: code %d: %s", resp.StatusCode, decoded.Error.Code, decoded.Error.Message)
		}

		return nil, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	if decoded.AccessToken == "" {
		return nil, errors.New("refresh response without access token")
	}

	return &Refreshed{
		AccessToken: decoded.AccessToken,
		ExpiresIn:   time.Duration(decoded.ExpiresIn) * time.Second,
	}, nil
}
