package config

import "time"

// Ledger Constants
const (
	// Credits granted to a freshly created account
	StartingBalance = 5

	// Most recent transactions kept per account, oldest evicted first
	TransactionRetention = 100

	// Default timezone for calendar-day claim boundaries
	DefaultTimezone = "Local"
)

// Grant Constants
const (
	DailyGrantAmount = 3 // Free credits per calendar day
)

// Reward amounts per qualifying user action
const (
	RewardShareApp        = 2
	RewardRateApp         = 5
	RewardWatchAd         = 1
	RewardCompleteProfile = 3
	RewardFirstHairstyle  = 5
)

// Transaction Constants
const (
	DefaultTxTimeout  = 30 * time.Second // Default database transaction timeout
	DefaultAPITimeout = 10 * time.Second // Per-request handler timeout
	MaxRetries        = 3                // Bounded retries for transient I/O
	RetryBackoff      = time.Second      // Base delay between retries
)
