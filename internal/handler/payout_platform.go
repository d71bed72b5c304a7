package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// pgPayoutAccounts reads and conditionally updates the platform's
// payout_accounts table. The table is owned by the core application;
// this service only flips the submission status.
type pgPayoutAccounts struct {
	pool *pgxpool.Pool
}

func NewPgPayoutAccounts(pool *pgxpool.Pool) PayoutAccounts {
	return &pgPayoutAccounts{pool: pool}
}

func (a *pgPayoutAccounts) Status(ctx context.Context, accountID string) (string, error) {
	var status string
	err := a.pool.QueryRow(ctx,
		`SELECT status FROM payout_accounts WHERE id = $1`, accountID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("payout account %s status: %w", accountID, err)
	}
	return status, nil
}

// SetStatusIf updates the status only when the current value matches
// from. Returns false without error when another writer got there first.
func (a *pgPayoutAccounts) SetStatusIf(ctx context.Context, accountID, from, to string) (bool, error) {
	tag, err := a.pool.Exec(ctx, `
		UPDATE payout_accounts SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`, to, accountID, from)
	if err != nil {
		return false, fmt.Errorf("payout account %s status update: %w", accountID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// HTTPPayoutAPI submits bank details through the payout provider's
// REST gateway.
type HTTPPayoutAPI struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPPayoutAPI(baseURL string, timeout time.Duration) *HTTPPayoutAPI {
	return &HTTPPayoutAPI{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPPayoutAPI) SubmitBankDetails(ctx context.Context, accountID string) error {
	body, err := json.Marshal(map[string]string{"account_id": accountID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/v1/accounts/" + accountID + "/bank-details"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit bank details: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("payout API status %d for account %s", resp.StatusCode, accountID)
	}
	return nil
}

var _ PayoutAPI = (*HTTPPayoutAPI)(nil)
