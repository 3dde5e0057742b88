package market

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GammaClient resolves market slugs to CLOB token IDs via the Gamma API
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a Gamma API client
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// ResolveTokens fetches the up/down outcome token IDs for a market slug.
// The API returns clobTokenIds either as a JSON array or as a stringified one.
func (g *GammaClient) ResolveTokens(marketID string) (string, string, error) {
	url := fmt.Sprintf("%s/markets/slug/%s", g.baseURL, marketID)

	resp, err := g.httpClient.Get(url)
	if err != nil {
		return "", "", fmt.Errorf("gamma request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("gamma returned %d for %s", resp.StatusCode, marketID)
	}

	var data struct {
		ClobTokenIDs json.RawMessage `json:"clobTokenIds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", "", fmt.Errorf("gamma decode failed: %w", err)
	}

	ids, err := parseTokenIDs(data.ClobTokenIDs)
	if err != nil {
		return "", "", err
	}
	if len(ids) < 2 {
		return "", "", fmt.Errorf("market %s has %d tokens, want 2", marketID, len(ids))
	}
	return ids[0], ids[1], nil
}

func parseTokenIDs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no clobTokenIds in response")
	}

	var ids []string
	if err := json.Unmarshal(raw, &ids); err == nil {
		return ids, nil
	}

	// Stringified array: "[\"123\", \"456\"]"
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("unrecognized clobTokenIds format")
	}
	if err := json.Unmarshal([]byte(s), &ids); err == nil {
		return ids, nil
	}
	for _, part := range strings.Split(strings.Trim(s, "[]"), ",") {
		if part = strings.Trim(strings.TrimSpace(part), `"`); part != "" {
			ids = append(ids, part)
		}
	}
	return ids, nil
}
