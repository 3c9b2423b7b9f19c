package creditserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stylemirror/credits-server/creditserver/config"
	"github.com/stylemirror/credits-server/creditserver/database"
	"github.com/stylemirror/credits-server/creditserver/database/repositories"
	"github.com/stylemirror/credits-server/creditserver/grants"
	"github.com/stylemirror/credits-server/creditserver/ledger"
	"github.com/stylemirror/credits-server/creditserver/metering"
	"github.com/stylemirror/credits-server/creditserver/purchase"
	"github.com/stylemirror/credits-server/creditserver/services"
)

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// App holds every constructed service. Nothing here is global; callers get
// the dependencies they need injected from this struct.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB         *database.DB
	Ledger     *ledger.Service
	Grants     *grants.Engine
	Meter      *metering.Meter
	Reconciler *purchase.Reconciler
	Receipts   repositories.ReceiptRepository
	Generator  services.Generator
	Previews   services.PreviewStore
}

// Setup wires repositories and services on top of an already-connected
// database. Provider variants (store verifier, generator, preview store) are
// selected here, once, from configuration.
func (a *App) Setup() error {
	if a.DB == nil {
		return fmt.Errorf("database not initialized")
	}

	startingBalance := a.Cfg.Credits.StartingBalance
	if startingBalance <= 0 {
		startingBalance = config.StartingBalance
	}

	store := repositories.NewLedgerRepository(a.DB.BunDB())
	a.Ledger = ledger.New(store, startingBalance)

	location := time.Local
	if tz := a.Cfg.Credits.Timezone; tz != "" && tz != config.DefaultTimezone {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("invalid credits timezone %q: %w", tz, err)
		}
		location = loc
	}
	a.Grants = grants.NewEngine(a.Ledger, a.Cfg.Credits.DailyAmount, location)

	a.Meter = metering.NewMeter(a.Ledger)

	a.Receipts = repositories.NewReceiptRepository(a.DB.BunDB())
	var verifier purchase.Verifier
	switch a.Cfg.Store.Provider {
	case "appstore":
		verifier = purchase.NewAppStoreVerifier(a.Cfg.Store.VerifyURL, a.Cfg.Store.SharedSecret)
	case "sandbox", "":
		verifier = purchase.NewSandboxVerifier()
	default:
		return fmt.Errorf("unknown store provider %q", a.Cfg.Store.Provider)
	}
	a.Reconciler = purchase.NewReconciler(verifier, a.Receipts, a.Ledger)

	switch a.Cfg.Generator.Provider {
	case "http":
		a.Generator = services.NewHTTPGenerator(a.Cfg.Generator.BaseURL, a.Cfg.Generator.APIKey)
	case "stub", "":
		a.Generator = services.NewStubGenerator()
	default:
		return fmt.Errorf("unknown generator provider %q", a.Cfg.Generator.Provider)
	}

	if a.Cfg.Spaces.Key != "" {
		spaces, err := services.NewSpacesService(
			a.Cfg.Spaces.Key,
			a.Cfg.Spaces.Secret,
			a.Cfg.Spaces.Region,
			a.Cfg.Spaces.Bucket,
			a.Cfg.Spaces.PreviewRoot,
		)
		if err != nil {
			return err
		}
		a.Previews = spaces
	} else {
		a.Previews = services.NewInlinePreviewStore()
	}

	slog.Info("Application services wired",
		slog.String("store_provider", a.Cfg.Store.Provider),
		slog.String("generator_provider", a.Cfg.Generator.Provider),
	)

	return nil
}

// Connect opens the database, optionally creating tables and indexes.
func (a *App) Connect(ctx context.Context, syncSchema bool) error {
	db, err := database.New(ctx, database.DBConfig{
		Host:     a.Cfg.DB.Host,
		Port:     a.Cfg.DB.Port,
		User:     a.Cfg.DB.User,
		Password: a.Cfg.DB.Password,
		Database: a.Cfg.DB.Database,
		PoolSize: a.Cfg.DB.PoolSize,
	})
	if err != nil {
		return err
	}

	if syncSchema {
		if err := db.InitializeSchema(ctx); err != nil {
			db.Close()
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
	}

	a.DB = db
	return nil
}

func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
	}
}
