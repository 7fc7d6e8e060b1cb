package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-negotiation/internal/models"
)

// Client queries a remote matching service over HTTP. It is the rider
// flow's view of matching when the backend runs out of process.
type Client struct {
	Endpoint string
	HTTP     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) RequestDrivers(ctx context.Context, account string, pickup, dropoff models.Coord) ([]models.DriverCandidate, error) {
	body, _ := json.Marshal(map[string]any{
		"account":           account,
		"latitude":          pickup.Lat,
		"longitude":         pickup.Lon,
		"dropoff_latitude":  dropoff.Lat,
		"dropoff_longitude": dropoff.Lon,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matching service status %d", resp.StatusCode)
	}
	var out struct {
		SelectedDrivers []models.DriverCandidate `json:"selectedDrivers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.SelectedDrivers, nil
}
