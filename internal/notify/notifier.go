package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dropwatch/dropwatch/internal/currency"
	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/resilience"
)

// LogNotifier writes events to the structured log. It is the default sink
// and the fallback when no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, event model.NotificationEvent) error {
	zap.L().Info("notify: price drop",
		zap.String("item", event.ItemID),
		zap.String("product", event.Product.ID),
		zap.String("title", event.Title),
		zap.String("old", currency.Format(event.OldPrice, event.Currency)),
		zap.String("new", currency.Format(event.NewPrice, event.Currency)),
		zap.String("savings", currency.Format(event.Savings(), event.Currency)),
		zap.Bool("historical_low", event.HistoricalLow),
	)
	return nil
}

// WebhookNotifier POSTs events as JSON to a configured endpoint. Transient
// delivery failures are retried; the caller treats a final failure as
// non-fatal because the baseline has already moved.
type WebhookNotifier struct {
	url    string
	client *http.Client
	retry  resilience.RetryConfig
}

func NewWebhook(url string) *WebhookNotifier {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("notify", "webhook")
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  retry,
	}
}

// webhookPayload is the wire form of an event, with a preformatted human
// summary alongside the raw fields.
type webhookPayload struct {
	model.NotificationEvent
	Summary string `json:"summary"`
}

func (n *WebhookNotifier) Deliver(ctx context.Context, event model.NotificationEvent) error {
	payload := webhookPayload{
		NotificationEvent: event,
		Summary: fmt.Sprintf("%s: %s -> %s",
			event.Title,
			currency.Format(event.OldPrice, event.Currency),
			currency.Format(event.NewPrice, event.Currency)),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "notify: marshal webhook payload")
	}

	return resilience.Do(ctx, n.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return eris.Wrap(err, "notify: build webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return resilience.Transient(eris.Wrap(err, "notify: webhook post"), 0)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body) //nolint:errcheck

		if resp.StatusCode >= 300 {
			err := eris.Errorf("notify: webhook status %d", resp.StatusCode)
			if resilience.RetryableStatus(resp.StatusCode) {
				return resilience.Transient(err, resp.StatusCode)
			}
			return err
		}
		return nil
	})
}
