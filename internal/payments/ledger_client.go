package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// LedgerTransferClient posts transfers to a token-ledger style backend:
// {to, amount, fee, memo} -> {ok: txHeight} | {err}.
type LedgerTransferClient struct {
	Endpoint string
	Client   *http.Client
}

func NewLedgerTransferClient(endpoint string) *LedgerTransferClient {
	return &LedgerTransferClient{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (l *LedgerTransferClient) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	body, _ := json.Marshal(map[string]any{
		"to":     req.To,
		"amount": req.AmountCents,
		"fee":    req.FeeCents,
		"memo":   req.Memo,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := l.Client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var out struct {
		OK  *uint64 `json:"ok"`
		Err string  `json:"err"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Err != "" {
		return 0, fmt.Errorf("transfer rejected: %s", out.Err)
	}
	if out.OK == nil {
		return 0, fmt.Errorf("transfer response missing height (status %d)", resp.StatusCode)
	}
	return *out.OK, nil
}
