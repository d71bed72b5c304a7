package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/courtbook/relay/internal/domain"
	"github.com/courtbook/relay/internal/payload"
	"github.com/courtbook/relay/internal/worker"
)

// Payout account statuses as tracked by the domain store.
const (
	AccountPending    = "pending"
	AccountInProgress = "submission_in_progress"
	AccountSubmitted  = "submitted"
)

// PayoutAccounts is the domain-side view of payout accounts. Status
// changes are conditional on the expected prior value so concurrent
// retries and re-deliveries never clobber each other.
type PayoutAccounts interface {
	Status(ctx context.Context, accountID string) (string, error)
	SetStatusIf(ctx context.Context, accountID, from, to string) (bool, error)
}

// PayoutAPI is the third-party payout provider client.
type PayoutAPI interface {
	SubmitBankDetails(ctx context.Context, accountID string) error
}

// PayoutUpdater submits updated bank details for one account. The
// producer flips the account to submission_in_progress before
// enqueueing; this handler only acts while that status holds, which
// makes a second delivery of the same job a no-op.
type PayoutUpdater struct {
	accounts PayoutAccounts
	api      PayoutAPI
	logger   *zap.Logger
}

func NewPayoutUpdater(accounts PayoutAccounts, api PayoutAPI, logger *zap.Logger) *PayoutUpdater {
	return &PayoutUpdater{accounts: accounts, api: api, logger: logger}
}

func (h *PayoutUpdater) Handle(ctx context.Context, job domain.Job, p payload.Payload) (json.RawMessage, error) {
	pb, ok := p.(*payload.PayoutBank)
	if !ok {
		return nil, &domain.ValidationError{Queue: job.Queue, Reason: "unexpected payload type"}
	}

	status, err := h.accounts.Status(ctx, pb.AccountID)
	if err != nil {
		return nil, err
	}

	switch status {
	case AccountSubmitted:
		// An earlier attempt already went through. Do not hit the
		// payout API again.
		h.logger.Info("payout account already submitted",
			zap.String("account_id", pb.AccountID))
		return json.Marshal(map[string]string{"status": AccountSubmitted})
	case AccountInProgress:
	default:
		return nil, domain.Terminal(fmt.Errorf("payout account %s in unexpected status %q", pb.AccountID, status))
	}

	if err := h.api.SubmitBankDetails(ctx, pb.AccountID); err != nil {
		return nil, err
	}

	changed, err := h.accounts.SetStatusIf(ctx, pb.AccountID, AccountInProgress, AccountSubmitted)
	if err != nil {
		return nil, err
	}
	if !changed {
		h.logger.Warn("payout account status changed concurrently",
			zap.String("account_id", pb.AccountID))
	}
	return json.Marshal(map[string]string{"status": AccountSubmitted})
}

// RollbackOnFailure is the compensating action subscribed to terminal
// failures on the payout queue: the account drops back to pending so
// the user can retry from the UI. Conditional, so an account that moved
// on for other reasons is left alone.
func (h *PayoutUpdater) RollbackOnFailure(ctx context.Context, ev worker.FailedEvent) error {
	var pb payload.PayoutBank
	if err := json.Unmarshal(ev.Job.Payload, &pb); err != nil || pb.AccountID == "" {
		return fmt.Errorf("rollback: undecodable payout payload for job %s", ev.Job.ID)
	}

	changed, err := h.accounts.SetStatusIf(ctx, pb.AccountID, AccountInProgress, AccountPending)
	if err != nil {
		return fmt.Errorf("rollback account %s: %w", pb.AccountID, err)
	}
	if changed {
		h.logger.Info("payout account rolled back to pending",
			zap.String("account_id", pb.AccountID),
			zap.String("job_id", ev.Job.ID),
			zap.String("reason", ev.Reason))
	}
	return nil
}
