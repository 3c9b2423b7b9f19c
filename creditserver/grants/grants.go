package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/ledger"
)

var (
	ErrAlreadyClaimed = errors.New("daily credits already claimed today")
	ErrUnknownAction  = errors.New("unknown reward action")
	ErrClaimInFlight  = errors.New("another claim is already in progress")
)

// RewardAction names a user action that earns a one-off credit grant. The
// caller detecting the action (share sheet, store review prompt, profile
// completion) is responsible for firing it once.
type RewardAction string

const (
	ActionShareApp        RewardAction = "share_app"
	ActionRateApp         RewardAction = "rate_app"
	ActionWatchAd         RewardAction = "watch_ad"
	ActionCompleteProfile RewardAction = "complete_profile"
	ActionFirstHairstyle  RewardAction = "first_hairstyle"
)

var rewardAmounts = map[RewardAction]int64{
	ActionShareApp:        config.RewardShareApp,
	ActionRateApp:         config.RewardRateApp,
	ActionWatchAd:         config.RewardWatchAd,
	ActionCompleteProfile: config.RewardCompleteProfile,
	ActionFirstHairstyle:  config.RewardFirstHairstyle,
}

var rewardDescriptions = map[RewardAction]string{
	ActionShareApp:        "Shared the app",
	ActionRateApp:         "Rated the app",
	ActionWatchAd:         "Watched an ad",
	ActionCompleteProfile: "Completed profile",
	ActionFirstHairstyle:  "First hairstyle try-on",
}

// Engine hands out cooldown-gated daily credits and action rewards. Claim
// attempts for one account are funneled through a per-account in-flight lock
// before the store-level compare-and-swap, mirroring the double-tap
// protection on spends.
type Engine struct {
	ledger       *ledger.Service
	dailyAmount  int64
	location     *time.Location
	activeClaims sync.Map // accountID -> struct{}
	now          func() time.Time
}

func NewEngine(ledgerSvc *ledger.Service, dailyAmount int64, location *time.Location) *Engine {
	if dailyAmount <= 0 {
		dailyAmount = config.DailyGrantAmount
	}
	if location == nil {
		location = time.Local
	}
	return &Engine{
		ledger:      ledgerSvc,
		dailyAmount: dailyAmount,
		location:    location,
		now:         time.Now,
	}
}

// sameCalendarDay reports whether both instants fall on the same calendar
// date in the engine's location.
func (e *Engine) sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.In(e.location).Date()
	by, bm, bd := b.In(e.location).Date()
	return ay == by && am == bm && ad == bd
}

// CanClaimDaily reports whether the account is eligible for today's grant.
// Read-only; the authoritative check happens again inside ClaimDaily.
func (e *Engine) CanClaimDaily(ctx context.Context, accountID string) (bool, error) {
	account, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account.LastDailyClaim.IsZero() {
		return true, nil
	}
	return !e.sameCalendarDay(account.LastDailyClaim, e.now()), nil
}

// DailyClaimStatus describes the outcome of a successful claim.
type DailyClaimStatus struct {
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// ClaimDaily grants the daily credits if the account has not claimed today.
// The eligibility re-check runs as a compare-and-swap against the stored
// last-claim timestamp, so two racing claims can only succeed once.
func (e *Engine) ClaimDaily(ctx context.Context, accountID string) (*DailyClaimStatus, error) {
	if _, loaded := e.activeClaims.LoadOrStore(accountID, struct{}{}); loaded {
		return nil, ErrClaimInFlight
	}
	defer e.activeClaims.Delete(accountID)

	account, err := e.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if !account.LastDailyClaim.IsZero() && e.sameCalendarDay(account.LastDailyClaim, now) {
		return nil, ErrAlreadyClaimed
	}

	swapped, err := e.ledger.MarkDailyClaim(ctx, accountID, account.LastDailyClaim, now)
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Another device or session claimed between our read and the swap
		return nil, ErrAlreadyClaimed
	}

	balance, err := e.ledger.Earn(ctx, accountID, e.dailyAmount, "Daily free credits", "")
	if err != nil {
		slog.Error("Daily grant credit failed after claim was marked",
			slog.String("type", "error"),
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
		// Swap the claim date back so the account can claim again
		if _, revertErr := e.ledger.MarkDailyClaim(ctx, accountID, now, account.LastDailyClaim); revertErr != nil {
			slog.Error("Failed to release claim date after credit failure",
				slog.String("type", "error"),
				slog.String("account_id", accountID),
				slog.Any("error", revertErr),
			)
		}
		return nil, err
	}

	slog.Info("Daily credits claimed",
		slog.String("type", "ledger"),
		slog.String("account_id", accountID),
		slog.Int64("amount", e.dailyAmount),
	)

	return &DailyClaimStatus{
		Amount:    e.dailyAmount,
		Balance:   balance,
		ClaimedAt: now,
	}, nil
}

// GrantReward credits the fixed amount for a named action. No cooldown; the
// collaborator that detected the action enforces once-per-action.
func (e *Engine) GrantReward(ctx context.Context, accountID string, action RewardAction) (int64, error) {
	amount, ok := rewardAmounts[action]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	description := fmt.Sprintf("Reward: %s", rewardDescriptions[action])
	return e.ledger.Earn(ctx, accountID, amount, description, "")
}

// GrantCustom credits an arbitrary amount with a caller-supplied description.
// For server-side promotions and support adjustments; not exposed over the
// public API.
func (e *Engine) GrantCustom(ctx context.Context, accountID string, amount int64, description string) (int64, error) {
	return e.ledger.Earn(ctx, accountID, amount, fmt.Sprintf("Reward: %s", description), "")
}

// RewardAmount returns the grant size for an action, zero when unknown.
func RewardAmount(action RewardAction) int64 {
	return rewardAmounts[action]
}
