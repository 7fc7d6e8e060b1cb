package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// FCMDispatcher posts ride notices to the FCM HTTPv1 endpoint using a
// server key or oauth token, for drivers reachable only by mobile push.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Notify(driverID string, n RideNotice) error {
	body := map[string]interface{}{"message": map[string]interface{}{"token": driverID, "data": map[string]interface{}{"ride_id": n.RideID, "price_cents": n.PriceCents}}}
	b, _ := json.Marshal(body)
	req, err := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
