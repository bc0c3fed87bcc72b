package annotations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/stillpointlabs/vidmark/internal/types"
)

// Client talks to the optional annotation backend. Fetch and create are
// plain JSON over HTTP; marker pushes arrive on a server-sent event stream
// per item.
type Client struct {
	base        string
	markerLimit int
	http        *http.Client
}

// NewClient builds a backend client for base (no trailing slash). The
// timeout bounds fetch and create calls; streams manage their own lifetime
// through the subscription context.
func NewClient(base string, timeout time.Duration, markerLimit int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if markerLimit <= 0 {
		markerLimit = 500
	}
	return &Client{
		base:        base,
		markerLimit: markerLimit,
		http:        &http.Client{Timeout: timeout},
	}
}

type markersResponse struct {
	Markers []types.Marker `json:"markers"`
}

// FetchMarkers loads the backend's marker set for one item.
func (c *Client) FetchMarkers(ctx context.Context, item types.ItemID) ([]types.Marker, error) {
	endpoint := fmt.Sprintf("%s/api/v1/items/%s/markers?limit=%d",
		c.base, url.PathEscape(item.Key()), c.markerLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewError(types.CodeBackendUnavailable, "build marker request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, types.NewError(types.CodeBackendUnavailable, "marker fetch request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, types.NewError(types.CodeBackendUnavailable,
			fmt.Sprintf("marker fetch returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, types.NewError(types.CodeBackendUnavailable, "read marker response", err)
	}
	var out markersResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, types.NewError(types.CodeBackendUnavailable, "decode marker response", err)
	}
	return out.Markers, nil
}

// CreateMarker mirrors a locally created marker to the backend.
func (c *Client) CreateMarker(ctx context.Context, m types.Marker) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return types.NewError(types.CodeInternal, "encode marker", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/v1/markers", bytes.NewReader(payload))
	if err != nil {
		return types.NewError(types.CodeBackendUnavailable, "build marker create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewError(types.CodeBackendUnavailable, "marker create request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return types.NewError(types.CodeBackendUnavailable,
			fmt.Sprintf("marker create returned status %d", resp.StatusCode), nil)
	}
	return nil
}

// StreamMarkers subscribes to the item's push stream and blocks until ctx
// is done. The SSE client reconnects on its own; cancellation is the only
// way out.
func (c *Client) StreamMarkers(ctx context.Context, item types.ItemID, onMarker func(types.Marker)) error {
	endpoint := fmt.Sprintf("%s/api/v1/items/%s/markers/stream",
		c.base, url.PathEscape(item.Key()))
	client := sse.NewClient(endpoint)
	return client.SubscribeRawWithContext(ctx, func(ev *sse.Event) {
		if len(ev.Data) == 0 {
			return
		}
		var m types.Marker
		if err := json.Unmarshal(ev.Data, &m); err != nil {
			slog.Warn("annotations stream event undecodable", "item", item.Key(), "error", err)
			return
		}
		onMarker(m)
	})
}
