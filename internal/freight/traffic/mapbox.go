// Package traffic estimates the traffic delay between two named locations from Mapbox
// geocoding and driving-traffic directions.
package traffic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/RealZimboGuy/freightflow/internal/config"
)

var errNoFeatures = errors.New("no geocoding result")

// DefaultTimeout bounds a whole GetDelay call, both geocoding lookups and the directions query.
const DefaultTimeout = 8 * time.Second

// MapboxClient holds credentials and HTTP client configuration.
type MapboxClient struct {
	AccessToken string
	baseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client // optional
}

func NewMapboxClient(cfg config.MapboxConfig) *MapboxClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultMapboxURL
	}
	return &MapboxClient{
		AccessToken: cfg.AccessToken,
		baseURL:     baseURL,
		Timeout:     DefaultTimeout,
		HTTPClient:  http.DefaultClient,
	}
}

type coordinates struct {
	Lon float64
	Lat float64
}

type geocodingResponse struct {
	Features []struct {
		Center []float64 `json:"center"`
	} `json:"features"`
}

type directionsResponse struct {
	Routes []struct {
		Duration float64 `json:"duration"`
		Legs     []struct {
			Annotation struct {
				CongestionNumeric []*float64 `json:"congestion_numeric"`
			} `json:"annotation"`
		} `json:"legs"`
	} `json:"routes"`
}

// GetDelay returns the estimated extra travel minutes from origin to destination. It never fails:
// any collaborator problem is logged and reported as no delay.
func (c *MapboxClient) GetDelay(ctx context.Context, origin, destination string) float64 {
	if c.AccessToken == "" {
		slog.WarnContext(ctx, "Mapbox access token missing, assuming no delay")
		return 0
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start, err := c.geocode(ctx, origin)
	if err != nil {
		slog.WarnContext(ctx, "Geocoding origin failed, assuming no delay", "origin", origin, "error", err)
		return 0
	}
	end, err := c.geocode(ctx, destination)
	if err != nil {
		slog.WarnContext(ctx, "Geocoding destination failed, assuming no delay", "destination", destination, "error", err)
		return 0
	}
	delay, err := c.routeDelay(ctx, start, end)
	if err != nil {
		slog.WarnContext(ctx, "Directions lookup failed, assuming no delay", "origin", origin, "destination", destination, "error", err)
		return 0
	}
	slog.InfoContext(ctx, "Estimated traffic delay", "origin", origin, "destination", destination, "delay", FormatMinutes(delay))
	return delay
}

func (c *MapboxClient) geocode(ctx context.Context, name string) (coordinates, error) {
	fullPath := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?access_token=%s",
		c.baseURL, url.PathEscape(name), url.QueryEscape(c.AccessToken))
	var out geocodingResponse
	if err := c.getJSON(ctx, fullPath, &out); err != nil {
		return coordinates{}, err
	}
	if len(out.Features) == 0 || len(out.Features[0].Center) < 2 {
		return coordinates{}, errNoFeatures
	}
	return coordinates{Lon: out.Features[0].Center[0], Lat: out.Features[0].Center[1]}, nil
}

func (c *MapboxClient) routeDelay(ctx context.Context, start, end coordinates) (float64, error) {
	fullPath := fmt.Sprintf("%s/directions/v5/mapbox/driving-traffic/%v,%v;%v,%v?access_token=%s&annotations=duration,congestion_numeric",
		c.baseURL, start.Lon, start.Lat, end.Lon, end.Lat, url.QueryEscape(c.AccessToken))
	var out directionsResponse
	if err := c.getJSON(ctx, fullPath, &out); err != nil {
		return 0, err
	}
	if len(out.Routes) == 0 {
		return 0, nil
	}
	route := out.Routes[0]
	var congestion []float64
	if len(route.Legs) > 0 {
		for _, v := range route.Legs[0].Annotation.CongestionNumeric {
			if v != nil {
				congestion = append(congestion, *v)
			}
		}
	}
	return EstimateDelay(route.Duration/60, congestion), nil
}

func (c *MapboxClient) getJSON(ctx context.Context, fullPath string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullPath, nil)
	if err != nil {
		return err
	}
	cli := c.HTTPClient
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status from mapbox: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode mapbox response: %w", err)
	}
	return nil
}

// AverageCongestion is the arithmetic mean of the series, 0 when empty.
func AverageCongestion(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	var sum float64
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

// EstimateDelay scales the free-flow travel time by the average congestion percentage.
func EstimateDelay(normalMinutes float64, congestion []float64) float64 {
	return math.Max(0, AverageCongestion(congestion)/100*normalMinutes)
}

// FormatMinutes renders fractional minutes as h:mm:ss, rounded to the second.
func FormatMinutes(minutes float64) string {
	total := int64(math.Round(minutes * 60))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
