package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// Notifier tells a driver about an incoming ride request.
type Notifier interface {
	Notify(driverID string, n RideNotice) error
}

// PushDispatcher tries the driver's live WS session first and falls back to
// posting the notice to an external push endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Notify(driverID string, n RideNotice) error {
	if p.WS != nil {
		if err := p.WS.Notify(driverID, n); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	b, _ := json.Marshal(map[string]interface{}{"driver_id": driverID, "notice": n})
	_, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	return err
}
