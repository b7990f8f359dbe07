package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/resilience"
)

// Client talks to the historical price stats API. It implements Source; the
// Adapter on top of it handles batching, caching, retries, and the breaker.
type Client struct {
	baseURL string
	key     string
	client  *http.Client
}

func NewClient(baseURL, key string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// statsResponse is the wire shape of one stats lookup. Cent values of zero
// or below mean the API has no data for that field.
type statsResponse struct {
	Stats map[string]struct {
		MinCents     int64 `json:"min_cents"`
		MaxCents     int64 `json:"max_cents"`
		CurrentCents int64 `json:"current_cents"`
	} `json:"stats"`
}

func (c *Client) Stats(ctx context.Context, productIDs []string, domain string, mode model.ConditionMode) (map[string]RawStats, error) {
	q := url.Values{}
	q.Set("domain", domain)
	q.Set("condition", string(mode))
	q.Set("ids", strings.Join(productIDs, ","))

	endpoint := fmt.Sprintf("%s/v1/stats?%s", c.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "history: build stats request")
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "history: stats request"), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		err := eris.Errorf("history: stats status %d", resp.StatusCode)
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err, resp.StatusCode)
		}
		return nil, err
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "history: decode stats response")
	}

	out := make(map[string]RawStats, len(body.Stats))
	for id, s := range body.Stats {
		out[id] = RawStats{
			MinCents:     s.MinCents,
			MaxCents:     s.MaxCents,
			CurrentCents: s.CurrentCents,
		}
	}
	return out, nil
}
