package migration

import (
	"time"
)

// LegacyUser is one document from the old document-store `users` collection.
// The legacy app stored credits state denormalized per user, with the
// transaction log embedded.
type LegacyUser struct {
	UID            string              `bson:"uid"`
	Email          string              `bson:"email"`
	Anonymous      bool                `bson:"anonymous"`
	Credits        float64             `bson:"credits"`
	TotalEarned    float64             `bson:"totalEarned"`
	TotalSpent     float64             `bson:"totalSpent"`
	LastDailyClaim time.Time           `bson:"lastDailyClaim"`
	CreatedAt      time.Time           `bson:"createdAt"`
	LastUpdated    time.Time           `bson:"lastUpdated"`
	Transactions   []LegacyTransaction `bson:"transactions"`
}

// LegacyTransaction is one embedded log entry. Legacy ids look like
// "spend_1699999999999_0.123"; entries missing an id get one assigned during
// conversion.
type LegacyTransaction struct {
	ID          string    `bson:"id"`
	Type        string    `bson:"type"`
	Amount      float64   `bson:"amount"`
	Description string    `bson:"description"`
	Timestamp   time.Time `bson:"timestamp"`
	ProductID   string    `bson:"productId"`
}

// LegacyPurchase is one document from the old `purchases` collection, keyed
// by the platform transaction id.
type LegacyPurchase struct {
	TransactionID string    `bson:"transactionId"`
	UID           string    `bson:"uid"`
	ProductID     string    `bson:"productId"`
	Platform      string    `bson:"platform"`
	CreditsAdded  float64   `bson:"creditsAdded"`
	Timestamp     time.Time `bson:"timestamp"`
}

// TableStats tracks per-table migration counters.
type TableStats struct {
	Read     int
	Imported int
	Skipped  int
	Repaired int
}

// MigrationStats aggregates the run.
type MigrationStats struct {
	Tables    map[string]*TableStats
	StartTime time.Time
	EndTime   time.Time
}

func (s *MigrationStats) table(name string) *TableStats {
	if s.Tables == nil {
		s.Tables = make(map[string]*TableStats)
	}
	t, ok := s.Tables[name]
	if !ok {
		t = &TableStats{}
		s.Tables[name] = t
	}
	return t
}
