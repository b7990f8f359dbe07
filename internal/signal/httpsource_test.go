package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropwatch/dropwatch/internal/model"
	"github.com/dropwatch/dropwatch/internal/resilience"
)

func TestHTTPSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/snapshot", r.URL.Path)
		assert.Equal(t, "amazon.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "B0TEST", r.URL.Query().Get("id"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"title": "Mechanical Keyboard",
			"availability": "in_stock",
			"observations": [
				{"value": 84.99, "currency": "USD", "origin": "main_listing"},
				{"value": 99.99, "currency": "USD", "origin": "other_sellers"}
			]
		}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 5*time.Second)
	snap, err := src.Fetch(context.Background(), model.Product{ID: "B0TEST", Domain: "amazon.com"})
	require.NoError(t, err)
	assert.Equal(t, "Mechanical Keyboard", snap.Title)
	assert.Equal(t, model.AvailabilityInStock, snap.Availability)
	require.Len(t, snap.Observations, 2)
	assert.Equal(t, 84.99, snap.Observations[0].Value)
	assert.Equal(t, "USD", snap.Observations[0].Currency)
	assert.Equal(t, model.OriginMainListing, snap.Observations[0].Origin)
}

func TestHTTPSourceFetch_UnknownAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title": "x", "availability": "backordered", "observations": []}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 5*time.Second)
	snap, err := src.Fetch(context.Background(), model.Product{ID: "B0X", Domain: "amazon.com"})
	require.NoError(t, err)
	assert.Equal(t, model.AvailabilityUnknown, snap.Availability)
}

func TestHTTPSourceFetch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, 5*time.Second)
	_, err := src.Fetch(context.Background(), model.Product{ID: "B0X", Domain: "amazon.com"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}
