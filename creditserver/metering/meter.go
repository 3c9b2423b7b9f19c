package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stylemirror/credits-server/creditserver/ledger"
)

var ErrUnknownFeature = errors.New("unknown feature")

// Meter authorizes feature usage by debiting the ledger up front. The debit
// must succeed strictly before the feature runs; if the feature then fails,
// the returned Authorization's Rollback refunds the debit.
type Meter struct {
	ledger *ledger.Service
}

func NewMeter(ledgerSvc *ledger.Service) *Meter {
	return &Meter{ledger: ledgerSvc}
}

// Authorization is a debit that has been applied but whose feature has not
// completed yet. Exactly one of Commit or Rollback should be called.
type Authorization struct {
	Feature   Feature
	Cost      int64
	Balance   int64
	meter     *Meter
	accountID string
	settled   bool
}

// AttemptUsage checks affordability and debits the feature cost. An
// unaffordable request returns ledger.ErrInsufficientCredits with no
// mutation.
func (m *Meter) AttemptUsage(ctx context.Context, accountID string, feature Feature) (*Authorization, error) {
	cost, ok := Cost(feature)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeature, feature)
	}

	balance, err := m.ledger.Spend(ctx, accountID, cost, Description(feature))
	if err != nil {
		return nil, err
	}

	return &Authorization{
		Feature:   feature,
		Cost:      cost,
		Balance:   balance,
		meter:     m,
		accountID: accountID,
	}, nil
}

// Commit finalizes the authorization after the feature succeeded.
func (a *Authorization) Commit() {
	a.settled = true
}

// Rollback refunds the debit after a failed feature invocation. Safe to call
// after Commit; it becomes a no-op.
func (a *Authorization) Rollback(ctx context.Context) error {
	if a.settled {
		return nil
	}
	a.settled = true

	balance, err := a.meter.ledger.Earn(ctx, a.accountID, a.Cost,
		fmt.Sprintf("Refund: %s", Description(a.Feature)), "")
	if err != nil {
		slog.Error("Usage refund failed",
			slog.String("type", "error"),
			slog.String("account_id", a.accountID),
			slog.Int64("amount", a.Cost),
			slog.Any("error", err),
		)
		return err
	}

	a.Balance = balance
	return nil
}
