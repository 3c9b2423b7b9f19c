package migration

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/stylemirror/credits-server/creditserver/config"
	dbmodels "github.com/stylemirror/credits-server/creditserver/database/models"
)

const transactionRetention = config.TransactionRetention

// Migrator imports a legacy document-store export (the old app kept credits
// state in per-user documents) into the Postgres ledger. Input is either a
// BSON dump directory or a live Mongo database.
type Migrator struct {
	pgDB      *bun.DB
	dataDir   string
	batchSize int
	stats     MigrationStats

	// Optional direct Mongo access
	mongoDB *mongo.Database

	// Optional: use pgx CopyFrom for the transaction log bulk load
	useCopy bool
	pool    *pgxpool.Pool
}

func NewMigrator(pgDB *bun.DB, dataDir string) *Migrator {
	return &Migrator{
		pgDB:      pgDB,
		dataDir:   dataDir,
		batchSize: 1000,
		stats: MigrationStats{
			Tables:    make(map[string]*TableStats),
			StartTime: time.Now(),
		},
	}
}

// SetBatchSize overrides the default batch size for inserts
func (m *Migrator) SetBatchSize(size int) {
	if size > 0 {
		m.batchSize = size
	}
}

// UseMongo enables direct-from-Mongo migration mode
func (m *Migrator) UseMongo(client *mongo.Client, dbName string) {
	if client != nil && dbName != "" {
		m.mongoDB = client.Database(dbName)
	}
}

// SetUseCopy enables COPY FROM mode using pgx for the transaction log
func (m *Migrator) SetUseCopy(v bool) { m.useCopy = v }

// UsePool sets the pgx pool for COPY operations
func (m *Migrator) UsePool(pool *pgxpool.Pool) { m.pool = pool }

// Stats returns the counters for the completed run.
func (m *Migrator) Stats() MigrationStats { return m.stats }

// MigrateAll imports users and purchases from the BSON dump directory.
func (m *Migrator) MigrateAll(ctx context.Context) error {
	slog.Info("Starting legacy export migration",
		slog.String("type", "sys"),
		slog.String("data_dir", m.dataDir))
	m.stats.StartTime = time.Now()

	users, err := readBSONFile[LegacyUser](filepath.Join(m.dataDir, "users.bson"))
	if err != nil {
		return fmt.Errorf("failed to load users dump: %w", err)
	}
	if err := m.processUsers(ctx, users); err != nil {
		return err
	}

	// The purchases dump is optional; older exports predate receipts
	purchasesPath := filepath.Join(m.dataDir, "purchases.bson")
	if _, err := os.Stat(purchasesPath); err == nil {
		purchases, err := readBSONFile[LegacyPurchase](purchasesPath)
		if err != nil {
			return fmt.Errorf("failed to load purchases dump: %w", err)
		}
		if err := m.processPurchases(ctx, purchases); err != nil {
			return err
		}
	} else {
		slog.Info("purchases.bson not found, skipping receipts import",
			slog.String("type", "sys"))
	}

	m.stats.EndTime = time.Now()
	m.logFinalStats()
	return nil
}

// MigrateAllFromMongo imports directly from a live MongoDB database.
func (m *Migrator) MigrateAllFromMongo(ctx context.Context) error {
	if m.mongoDB == nil {
		return fmt.Errorf("mongoDB not configured; call UseMongo first")
	}

	slog.Info("Starting direct Mongo migration", slog.String("type", "sys"))
	m.stats.StartTime = time.Now()

	users, err := readCollection[LegacyUser](ctx, m.mongoDB.Collection("users"))
	if err != nil {
		return fmt.Errorf("failed to query users: %w", err)
	}
	if err := m.processUsers(ctx, users); err != nil {
		return err
	}

	purchases, err := readCollection[LegacyPurchase](ctx, m.mongoDB.Collection("purchases"))
	if err != nil {
		slog.Warn("purchases collection not readable, skipping receipts import",
			slog.String("type", "sys"),
			slog.String("error", err.Error()))
	} else if err := m.processPurchases(ctx, purchases); err != nil {
		return err
	}

	m.stats.EndTime = time.Now()
	m.logFinalStats()
	return nil
}

func (m *Migrator) processUsers(ctx context.Context, users []LegacyUser) error {
	accountStats := m.stats.table("accounts")
	txnStats := m.stats.table("transactions")
	accountStats.Read = len(users)

	// Deduplicate on uid, keeping the latest record
	byUID := make(map[string]LegacyUser, len(users))
	for _, lu := range users {
		if lu.UID == "" {
			accountStats.Skipped++
			continue
		}
		byUID[lu.UID] = lu
	}

	var accounts []*dbmodels.Account
	var transactions []*dbmodels.Transaction
	for _, lu := range byUID {
		account, repaired := m.convertUser(lu)
		if repaired {
			accountStats.Repaired++
		}
		accounts = append(accounts, account)

		rows, skipped := m.convertTransactions(lu)
		txnStats.Read += len(lu.Transactions)
		txnStats.Skipped += skipped
		transactions = append(transactions, rows...)
	}

	for start := 0; start < len(accounts); start += m.batchSize {
		end := start + m.batchSize
		if end > len(accounts) {
			end = len(accounts)
		}
		batch := accounts[start:end]
		if _, err := m.pgDB.NewInsert().
			Model(&batch).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert accounts batch: %w", err)
		}
		accountStats.Imported += len(batch)
		slog.Info("Accounts batch inserted",
			slog.String("type", "db"),
			slog.String("progress", fmt.Sprintf("%d/%d", end, len(accounts))))
	}

	if err := m.insertTransactions(ctx, transactions); err != nil {
		return err
	}
	txnStats.Imported = len(transactions)
	return nil
}

// insertTransactions bulk-loads the log, CopyFrom when available, batched
// bun inserts fanned out over a bounded errgroup otherwise.
func (m *Migrator) insertTransactions(ctx context.Context, rows []*dbmodels.Transaction) error {
	if len(rows) == 0 {
		return nil
	}

	if m.useCopy && m.pool != nil {
		if err := m.copyInsertTransactions(ctx, rows); err == nil {
			return nil
		} else {
			slog.Warn("COPY path failed, falling back to batch inserts",
				slog.String("type", "db"),
				slog.String("error", err.Error()))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(rows); start += m.batchSize {
		end := start + m.batchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		g.Go(func() error {
			_, err := m.pgDB.NewInsert().
				Model(&batch).
				On("CONFLICT (id) DO NOTHING").
				Exec(gctx)
			if err != nil {
				return fmt.Errorf("failed to insert transactions batch: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Migrator) copyInsertTransactions(ctx context.Context, rows []*dbmodels.Transaction) error {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	copied, err := conn.Conn().CopyFrom(ctx,
		pgx.Identifier{"transactions"},
		[]string{"id", "account_id", "kind", "amount", "description", "product_id", "created_at"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]interface{}, error) {
			row := rows[i]
			return []interface{}{
				row.ID, row.AccountID, string(row.Kind), row.Amount,
				row.Description, row.ProductID, row.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return err
	}

	slog.Info("Transactions copied",
		slog.String("type", "db"),
		slog.Int64("count", copied))
	return nil
}

func (m *Migrator) processPurchases(ctx context.Context, purchases []LegacyPurchase) error {
	stats := m.stats.table("receipts")
	stats.Read = len(purchases)

	var receipts []*dbmodels.Receipt
	for _, lp := range purchases {
		if lp.TransactionID == "" || lp.UID == "" {
			stats.Skipped++
			continue
		}
		receipts = append(receipts, m.convertPurchase(lp))
	}

	for start := 0; start < len(receipts); start += m.batchSize {
		end := start + m.batchSize
		if end > len(receipts) {
			end = len(receipts)
		}
		batch := receipts[start:end]
		if _, err := m.pgDB.NewInsert().
			Model(&batch).
			On("CONFLICT (id) DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to insert receipts batch: %w", err)
		}
		stats.Imported += len(batch)
	}
	return nil
}

func (m *Migrator) logFinalStats() {
	for name, t := range m.stats.Tables {
		slog.Info("Migration table summary",
			slog.String("type", "sys"),
			slog.String("table", name),
			slog.Int("read", t.Read),
			slog.Int("imported", t.Imported),
			slog.Int("skipped", t.Skipped),
			slog.Int("repaired", t.Repaired))
	}
	slog.Info("Migration completed",
		slog.String("type", "sys"),
		slog.Duration("took", m.stats.EndTime.Sub(m.stats.StartTime)))
}

// readBSONFile reads a mongodump-style file of length-prefixed BSON
// documents.
func readBSONFile[T any](path string) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var docs []T
	reader := bufio.NewReader(file)
	for {
		// Each BSON document starts with an int32 length
		lengthBytes := make([]byte, 4)
		if _, err := io.ReadFull(reader, lengthBytes); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read document length: %w", err)
		}

		length := int32(binary.LittleEndian.Uint32(lengthBytes))
		if length <= 4 {
			return nil, fmt.Errorf("invalid document length: %d", length)
		}

		docBytes := make([]byte, length-4)
		if _, err := io.ReadFull(reader, docBytes); err != nil {
			return nil, fmt.Errorf("failed to read document bytes: %w", err)
		}

		var doc T
		if err := bson.Unmarshal(append(lengthBytes, docBytes...), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readCollection[T any](ctx context.Context, coll *mongo.Collection) ([]T, error) {
	cur, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []T
	for cur.Next(ctx) {
		var doc T
		if err := cur.Decode(&doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}
