package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru"

	webmodels "github.com/stylemirror/credits-server/backend/models"
)

// Snapshot is the locally mirrored credits state for one account.
type Snapshot struct {
	Credits      webmodels.CreditsData        `json:"credits"`
	Transactions []*webmodels.TransactionData `json:"transactions,omitempty"`
	CachedAt     time.Time                    `json:"cachedAt"`
}

// Mirror keeps the last-known credits state per account, in memory and on
// disk. Reads survive the server being unreachable; a corrupt blob on disk is
// treated as absent.
type Mirror struct {
	dir   string
	cache *lru.Cache
}

func NewMirror(dir string) (*Mirror, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	cache, err := lru.New(128)
	if err != nil {
		return nil, err
	}

	return &Mirror{dir: dir, cache: cache}, nil
}

func (m *Mirror) path(accountID string) string {
	return filepath.Join(m.dir, fmt.Sprintf("stylemirror_credits_%s.json", accountID))
}

// Load returns the cached snapshot for accountID, checking memory first and
// falling back to the disk blob.
func (m *Mirror) Load(accountID string) (*Snapshot, bool) {
	if cached, ok := m.cache.Get(accountID); ok {
		return cached.(*Snapshot), true
	}

	if m.dir == "" {
		return nil, false
	}

	raw, err := os.ReadFile(m.path(accountID))
	if err != nil {
		return nil, false
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// Corrupt blob, same as absent
		slog.Warn("Discarding corrupt credits cache",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
		_ = os.Remove(m.path(accountID))
		return nil, false
	}

	m.cache.Add(accountID, &snapshot)
	return &snapshot, true
}

// Store replaces the snapshot for accountID in memory and on disk. Disk write
// failures are logged only; the in-memory copy still serves reads.
func (m *Mirror) Store(accountID string, snapshot *Snapshot) {
	snapshot.CachedAt = time.Now()
	m.cache.Add(accountID, snapshot)

	if m.dir == "" {
		return
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to encode credits cache", slog.String("error", err.Error()))
		return
	}
	if err := os.WriteFile(m.path(accountID), raw, 0o644); err != nil {
		slog.Warn("Failed to persist credits cache",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()))
	}
}

// Clear drops the cached state for accountID.
func (m *Mirror) Clear(accountID string) {
	m.cache.Remove(accountID)
	if m.dir != "" {
		_ = os.Remove(m.path(accountID))
	}
}
