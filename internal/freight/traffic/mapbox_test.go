package traffic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestEstimateDelay(t *testing.T) {
	assert.Equal(t, 50.0, AverageCongestion([]float64{0, 50, 100}))
	assert.Equal(t, 30.0, EstimateDelay(60, []float64{0, 50, 100}))
	assert.Equal(t, 0.0, EstimateDelay(60, nil))
	assert.Equal(t, 0.0, EstimateDelay(60, []float64{-20}), "negative delays are clamped")
}

func TestFormatMinutes(t *testing.T) {
	tests := []struct {
		minutes float64
		want    string
	}{
		{0, "0:00:00"},
		{1.5, "0:01:30"},
		{30, "0:30:00"},
		{75.25, "1:15:15"},
		{0.004, "0:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMinutes(tt.minutes))
	}
}

func newMapboxServer(t *testing.T, directions string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("access_token"))
		switch {
		case strings.HasPrefix(r.URL.Path, "/geocoding/v5/mapbox.places/Dublin"):
			w.Write([]byte(`{"features":[{"center":[-6.26,53.35]}]}`))
		case strings.HasPrefix(r.URL.Path, "/geocoding/v5/mapbox.places/Limerick"):
			w.Write([]byte(`{"features":[{"center":[-8.63,52.66]}]}`))
		case strings.HasPrefix(r.URL.Path, "/geocoding/"):
			w.Write([]byte(`{"features":[]}`))
		case strings.HasPrefix(r.URL.Path, "/directions/v5/mapbox/driving-traffic/-6.26,53.35;-8.63,52.66"):
			assert.Equal(t, "duration,congestion_numeric", r.URL.Query().Get("annotations"))
			w.Write([]byte(directions))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestMapboxClient_GetDelay(t *testing.T) {
	srv := newMapboxServer(t, `{"routes":[{"duration":3600,"legs":[{"annotation":{"congestion_numeric":[0,null,50,100]}}]}]}`)
	defer srv.Close()

	c := NewMapboxClient(config.MapboxConfig{AccessToken: "tok", BaseURL: srv.URL})
	assert.Equal(t, 30.0, c.GetDelay(context.Background(), "Dublin", "Limerick"))
}

func TestMapboxClient_FallsBackToZero(t *testing.T) {
	srv := newMapboxServer(t, `{"routes":[]}`)
	defer srv.Close()
	ctx := context.Background()

	noToken := NewMapboxClient(config.MapboxConfig{BaseURL: srv.URL})
	assert.Equal(t, 0.0, noToken.GetDelay(ctx, "Dublin", "Limerick"))

	c := NewMapboxClient(config.MapboxConfig{AccessToken: "tok", BaseURL: srv.URL})
	assert.Equal(t, 0.0, c.GetDelay(ctx, "Atlantis", "Limerick"), "unknown origin")
	assert.Equal(t, 0.0, c.GetDelay(ctx, "Dublin", "Limerick"), "no routes")

	down := NewMapboxClient(config.MapboxConfig{AccessToken: "tok", BaseURL: "http://127.0.0.1:1"})
	assert.Equal(t, 0.0, down.GetDelay(ctx, "Dublin", "Limerick"))
}

func TestMapboxClient_SlowServiceFallsBackWithinTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewMapboxClient(config.MapboxConfig{AccessToken: "tok", BaseURL: srv.URL})
	c.Timeout = 100 * time.Millisecond
	began := time.Now()
	assert.Equal(t, 0.0, c.GetDelay(context.Background(), "Dublin", "Limerick"))
	assert.Less(t, time.Since(began), 2*time.Second, "one deadline covers every request")
}
