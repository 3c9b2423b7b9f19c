package migration

import (
	"time"

	dbmodels "github.com/stylemirror/credits-server/creditserver/database/models"
	"github.com/stylemirror/credits-server/creditserver/ledger"
)

// convertUser maps a legacy user document to an account row. Inconsistent
// documents are repaired rather than rejected: negative balances clamp to
// zero and totals are recomputed so balance == totalEarned - totalSpent
// holds after import.
func (m *Migrator) convertUser(lu LegacyUser) (*dbmodels.Account, bool) {
	repaired := false

	balance := int64(lu.Credits)
	earned := int64(lu.TotalEarned)
	spent := int64(lu.TotalSpent)

	if balance < 0 {
		balance = 0
		repaired = true
	}
	if earned < 0 {
		earned = 0
		repaired = true
	}
	if spent < 0 {
		spent = 0
		repaired = true
	}
	if balance != earned-spent {
		// Trust the balance the user saw; fold the drift into totalEarned
		earned = balance + spent
		repaired = true
	}

	createdAt := lu.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	lastUpdated := lu.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = createdAt
	}

	return &dbmodels.Account{
		ID:             lu.UID,
		Balance:        balance,
		TotalEarned:    earned,
		TotalSpent:     spent,
		Anonymous:      lu.Anonymous,
		Email:          lu.Email,
		LastDailyClaim: lu.LastDailyClaim,
		CreatedAt:      createdAt,
		LastUpdated:    lastUpdated,
	}, repaired
}

// convertTransactions maps embedded log entries to transaction rows, newest
// 100 only, skipping entries with non-positive amounts or unknown kinds.
func (m *Migrator) convertTransactions(lu LegacyUser) (rows []*dbmodels.Transaction, skipped int) {
	entries := lu.Transactions
	if len(entries) > transactionRetention {
		entries = entries[len(entries)-transactionRetention:]
		skipped += len(lu.Transactions) - transactionRetention
	}

	for _, lt := range entries {
		var kind dbmodels.TransactionKind
		switch lt.Type {
		case "earn", "earned":
			kind = dbmodels.TransactionKindEarn
		case "spend", "spent":
			kind = dbmodels.TransactionKindSpend
		default:
			skipped++
			continue
		}

		amount := int64(lt.Amount)
		if amount <= 0 {
			skipped++
			continue
		}

		id := lt.ID
		if id == "" {
			id = ledger.NewTransactionID(kind)
		}
		timestamp := lt.Timestamp
		if timestamp.IsZero() {
			timestamp = lu.LastUpdated
		}

		rows = append(rows, &dbmodels.Transaction{
			ID:          id,
			AccountID:   lu.UID,
			Kind:        kind,
			Amount:      amount,
			Description: lt.Description,
			ProductID:   lt.ProductID,
			CreatedAt:   timestamp,
		})
	}
	return rows, skipped
}

// convertPurchase maps a legacy purchase document to a receipt row.
func (m *Migrator) convertPurchase(lp LegacyPurchase) *dbmodels.Receipt {
	creditedAt := lp.Timestamp
	if creditedAt.IsZero() {
		creditedAt = time.Now()
	}
	platform := lp.Platform
	if platform == "" {
		platform = "ios"
	}
	return &dbmodels.Receipt{
		ID:           lp.TransactionID,
		AccountID:    lp.UID,
		ProductID:    lp.ProductID,
		Platform:     platform,
		CreditsAdded: int64(lp.CreditsAdded),
		CreditedAt:   creditedAt,
	}
}
