package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"agent-market/utils"
)

// WalletClient is the PaymentSink backed by the wallet service's transfer
// endpoint. Transfers carry an Idempotency-Key so the wallet service can drop
// a repeated attempt for the same payout.
type WalletClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type transferResponse struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
}

func NewWalletClient(baseURL, token string, client *http.Client) *WalletClient {
	if client == nil {
		client = utils.HTTPClient
	}
	return &WalletClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  client,
	}
}

// IssuePayment calls POST /api/v1/transfers on the wallet service.
func (c *WalletClient) IssuePayment(ctx context.Context, req PaymentRequest) error {
	url := fmt.Sprintf("%s/api/v1/transfers", c.BaseURL)

	reqBody := map[string]interface{}{
		"destination": req.Destination,
		"amount":      req.Amount,
		"memo":        req.Memo,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Service-Token", c.Token)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call wallet service: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	// 409 means the idempotency key was already settled.
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("wallet service returned status %d: %s", resp.StatusCode, string(body))
	}

	var out transferResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode wallet service response: %w", err)
	}
	if out.Status == "failed" {
		return fmt.Errorf("transfer %s failed", out.TransferID)
	}
	return nil
}
