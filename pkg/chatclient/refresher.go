package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPRefresher exchanges a refresh token at the server's
// /auth/refresh-token endpoint.
type HTTPRefresher struct {
	URL    string
	Client *http.Client
}

func NewHTTPRefresher(url string) *HTTPRefresher {
	return &HTTPRefresher{URL: url, Client: &http.Client{Timeout: defaultHTTPTimeout}}
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	const op = "chatclient.HTTPRefresher.Refresh"

	body, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return Tokens{}, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		return Tokens{}, fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, failure.Message)
	}

	var out struct {
		Tokens Tokens `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Tokens{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.Tokens.Access == "" {
		return Tokens{}, fmt.Errorf("%s: empty access token", op)
	}

	return out.Tokens, nil
}
