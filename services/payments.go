package services

import (
	"context"
	"errors"
	"fmt"

	"agent-market/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentRequest is one transfer handed to the payment sink.
type PaymentRequest struct {
	Destination    string
	Amount         int64
	Memo           string
	IdempotencyKey string
}

// PaymentSink issues payments. It may fail independently of the marketplace
// state; an error means the transfer must be treated as not made.
type PaymentSink interface {
	IssuePayment(ctx context.Context, req PaymentRequest) error
}

// BalanceSource reports a destination's spendable balance.
type BalanceSource interface {
	GetBalance(ctx context.Context, destination string) (int64, error)
}

// Payments bundles the external money collaborators. A nil Sink disables
// payouts; rewards are then recorded but never paid.
type Payments struct {
	Sink     PaymentSink
	Balances BalanceSource
}

// MirrorBalances reads balances from the wallet mirror table kept fresh by the
// wallet sync worker. Unknown or inactive addresses have a zero balance.
type MirrorBalances struct {
	DB *gorm.DB
}

func (m MirrorBalances) GetBalance(ctx context.Context, destination string) (int64, error) {
	var w models.WalletMirror
	err := m.DB.WithContext(ctx).Where("address = ?", destination).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !w.IsActive {
		return 0, nil
	}
	return w.Balance, nil
}

// payout calls the sink for one payment and records the attempt on db. The
// Payout row is keyed by key, so a second call for the same key is a no-op
// that reports the recorded outcome.
func (b *Base) payout(ctx context.Context, db *gorm.DB, sink PaymentSink, kind models.PayoutKind, actor *models.Actor, amount int64, memo, key string) error {
	if sink == nil || amount <= 0 || !actor.Payable() {
		return nil
	}

	var prior models.Payout
	err := db.Where("idempotency_key = ?", key).First(&prior).Error
	if err == nil && prior.Status == models.PayoutIssued {
		return nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	req := PaymentRequest{
		Destination:    *actor.WalletAddress,
		Amount:         amount,
		Memo:           memo,
		IdempotencyKey: key,
	}
	sinkErr := sink.IssuePayment(ctx, req)

	status := models.PayoutIssued
	if sinkErr != nil {
		status = models.PayoutFailed
	}
	b.Metrics.payout(string(kind), string(status))
	log := b.Log.WithField("actor_id", actor.ID).WithField("idempotency_key", key).WithField("amount", amount)
	if sinkErr != nil {
		log.WithError(sinkErr).Warn("payout failed")
	} else {
		log.Info("payout issued")
	}

	if recErr := recordPayout(db, kind, actor.ID, req, status, sinkErr); recErr != nil {
		log.WithError(recErr).Error("failed to record payout")
		if sinkErr == nil {
			return recErr
		}
	}
	if sinkErr != nil {
		return fmt.Errorf("%w: %v", ErrPayoutFailed, sinkErr)
	}
	return nil
}

// recordPayout upserts the attempt row for req.IdempotencyKey.
func recordPayout(db *gorm.DB, kind models.PayoutKind, actorID string, req PaymentRequest, status models.PayoutStatus, sinkErr error) error {
	row := &models.Payout{
		ID:             uuid.NewString(),
		IdempotencyKey: req.IdempotencyKey,
		Kind:           kind,
		ActorID:        actorID,
		Destination:    req.Destination,
		Amount:         req.Amount,
		Memo:           req.Memo,
		Status:         status,
	}
	if sinkErr != nil {
		row.Error = sinkErr.Error()
	}
	created, err := createOrIgnore(db, row)
	if err != nil || created {
		return err
	}
	return db.Model(&models.Payout{}).
		Where("idempotency_key = ?", req.IdempotencyKey).
		Updates(map[string]interface{}{"status": status, "error": row.Error}).Error
}
