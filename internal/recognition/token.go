package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// fetchToken trades the long-lived API key for a short-lived bearer
// token so the key never rides on the streaming connection itself.
func fetchToken(ctx context.Context, client *http.Client, tokenURL, apiKey string, expiresS int) (string, error) {
	body, err := json.Marshal(map[string]int{"expires_in": expiresS})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", &AuthError{Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, payload)}
	}

	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &AuthError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if parsed.Token == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned empty token")}
	}
	return parsed.Token, nil
}
