// Package feed fetches GTFS-realtime feeds over HTTP
package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// ErrUnavailable wraps every fetch failure: network error, timeout, non-2xx
// status or a body that does not decode.
var ErrUnavailable = errors.New("feed unavailable")

// DefaultTimeout bounds each request
const DefaultTimeout = 10 * time.Second

// maxBodySize caps how much of a response is read
const maxBodySize = 32 << 20

// URLs holds the three GTFS-realtime endpoints. Only VehiclePositions is
// required.
type URLs struct {
	VehiclePositions string
	TripUpdates      string
	Alerts           string
}

// Client fetches feeds. It never retries; the caller's loop does.
type Client struct {
	urls   URLs
	client *http.Client
}

// NewClient returns a client whose requests time out after timeout
// (DefaultTimeout if zero).
func NewClient(urls URLs, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		urls: urls,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// VehiclePositions fetches the vehicle positions feed
func (c *Client) VehiclePositions(ctx context.Context) ([]*gtfs.FeedEntity, error) {
	return c.fetchEntities(ctx, "vehicle_positions", c.urls.VehiclePositions)
}

// TripUpdates fetches the trip updates feed
func (c *Client) TripUpdates(ctx context.Context) ([]*gtfs.FeedEntity, error) {
	return c.fetchEntities(ctx, "trip_updates", c.urls.TripUpdates)
}

// Alerts fetches the service alerts feed
func (c *Client) Alerts(ctx context.Context) ([]*gtfs.FeedEntity, error) {
	return c.fetchEntities(ctx, "alerts", c.urls.Alerts)
}

func (c *Client) fetchEntities(ctx context.Context, name, url string) ([]*gtfs.FeedEntity, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: %s feed not configured", ErrUnavailable, name)
	}

	start := time.Now()
	msg, err := c.fetchFeed(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}

	log.Debug().
		Str("feed", name).
		Int("entities", len(msg.GetEntity())).
		Dur("took", time.Since(start)).
		Msg("Feed fetched")
	return msg.GetEntity(), nil
}

// fetchFeed fetches and decodes one GTFS-RT message
func (c *Client) fetchFeed(ctx context.Context, url string) (*gtfs.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/x-protobuf")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return Decode(body)
}

var jsonDecoder = protojson.UnmarshalOptions{
	AllowPartial:   true,
	DiscardUnknown: true,
}

// Decode parses a feed body. JSON bodies (the agency serves .json
// endpoints) go through protojson, which accepts both the snake_case proto
// names and lowerCamelCase; anything else is treated as binary protobuf.
func Decode(body []byte) (*gtfs.FeedMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty feed body")
	}

	feed := &gtfs.FeedMessage{}
	if trimmed[0] == '{' {
		if err := jsonDecoder.Unmarshal(trimmed, feed); err != nil {
			return nil, fmt.Errorf("failed to parse JSON feed: %w", err)
		}
		return feed, nil
	}

	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(body, feed); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf: %w", err)
	}
	return feed, nil
}
