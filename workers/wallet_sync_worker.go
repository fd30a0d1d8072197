package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"agent-market/models"
	"agent-market/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletSyncClient pulls changed wallet balances from the wallet service and
// mirrors them into wallet_mirrors, which backs the boost balance gate.
type WalletSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
	Log        logrus.FieldLogger
}

func NewWalletSyncClient(db *gorm.DB, baseURL, token string, log logrus.FieldLogger) *WalletSyncClient {
	return &WalletSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
		DB:         db,
		Log:        log.WithField("worker", "wallet_sync"),
	}
}

func (c *WalletSyncClient) GetChangedWallets(ctx context.Context, since time.Time) ([]models.WalletMirror, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/wallets", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call wallet service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("wallet service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Wallets []models.WalletMirror `json:"wallets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode wallet service response: %w", err)
	}
	return response.Wallets, nil
}

// Apply upserts a batch of wallets into the mirror in one statement.
func (c *WalletSyncClient) Apply(ctx context.Context, wallets []models.WalletMirror) error {
	if len(wallets) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range wallets {
		if wallets[i].Address == "" {
			return errors.New("wallet without address")
		}
		if wallets[i].LastBalanceCheckAt.IsZero() {
			wallets[i].LastBalanceCheckAt = now
		}
		wallets[i].UpdatedAt = now
	}
	return c.DB.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"chain",
				"token",
				"balance",
				"is_active",
				"last_balance_check_at",
				"updated_at",
			}),
		},
	).Create(&wallets).Error
}

// PollWallets runs until ctx is done. A failed tick keeps the sync window so
// the same changes are fetched again.
func PollWallets(ctx context.Context, client *WalletSyncClient, pollInterval time.Duration) {
	client.Log.WithField("interval", pollInterval).Info("starting wallet polling")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.Log.Info("wallet polling stopped")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()
			wallets, err := client.GetChangedWallets(ctx, lastSyncTime)
			if err != nil {
				client.Log.WithError(err).Warn("error polling wallets")
				continue
			}
			if len(wallets) == 0 {
				lastSyncTime = tickTime
				continue
			}
			if err := client.Apply(ctx, wallets); err != nil {
				client.Log.WithError(err).WithField("count", len(wallets)).Error("failed to upsert wallet mirror")
				continue
			}
			lastSyncTime = tickTime
			client.Log.WithField("count", len(wallets)).Debug("wallet mirror updated")
		}
	}
}
