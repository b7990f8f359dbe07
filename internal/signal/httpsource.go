package signal

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

// HTTPSource fetches page snapshots from the scraper service. One call per
// item per pass; a failure here degrades the item to historical data rather
// than failing the pass.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// snapshotResponse is the scraper's wire format. The origin strings match
// the model's OriginTag values.
type snapshotResponse struct {
	Title        string `json:"title"`
	Availability string `json:"availability"`
	Observations []struct {
		Value    float64 `json:"value"`
		Currency string  `json:"currency"`
		Origin   string  `json:"origin"`
	} `json:"observations"`
}

func (s *HTTPSource) Fetch(ctx context.Context, product model.Product) (model.PageSnapshot, error) {
	q := url.Values{}
	q.Set("domain", product.Domain)
	q.Set("id", product.ID)

	endpoint := fmt.Sprintf("%s/v1/snapshot?%s", s.baseURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.PageSnapshot{}, eris.Wrap(err, "signal: build snapshot request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.PageSnapshot{}, resilience.Transient(eris.Wrapf(err, "signal: fetch %s", product.ID), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		err := eris.Errorf("signal: snapshot status %d for %s", resp.StatusCode, product.ID)
		if resilience.RetryableStatus(resp.StatusCode) {
			return model.PageSnapshot{}, resilience.Transient(err, resp.StatusCode)
		}
		return model.PageSnapshot{}, err
	}

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return model.PageSnapshot{}, eris.Wrap(err, "signal: decode snapshot")
	}

	snap := model.PageSnapshot{
		Title:        body.Title,
		Availability: parseAvailability(body.Availability),
	}
	for _, obs := range body.Observations {
		snap.Observations = append(snap.Observations, model.Observation{
			Value:    obs.Value,
			Currency: obs.Currency,
			Origin:   model.OriginTag(obs.Origin),
		})
	}
	return snap, nil
}

func parseAvailability(s string) model.Availability {
	switch model.Availability(s) {
	case model.AvailabilityInStock, model.AvailabilityUnavailable, model.AvailabilityPreorder:
		return model.Availability(s)
	default:
		return model.AvailabilityUnknown
	}
}
