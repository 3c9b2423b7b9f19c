package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stylemirror/credits-server/creditserver"
	"github.com/stylemirror/credits-server/creditserver/database"
	"github.com/stylemirror/credits-server/creditserver/logger"
	"github.com/stylemirror/credits-server/creditserver/migration"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to config")
	dataDir := flag.String("data", "data", "directory with the BSON export")
	mongoURI := flag.String("mongo-uri", "", "migrate directly from a live Mongo instance instead of a dump")
	mongoDB := flag.String("mongo-db", "stylemirror", "Mongo database name")
	batchSize := flag.Int("batch-size", 1000, "insert batch size")
	useCopy := flag.Bool("copy", false, "use COPY FROM for the transaction log")
	flag.Parse()

	slog.SetDefault(slog.New(logger.NewHandler()))

	cfg, err := creditserver.LoadConfig(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.New(ctx, database.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		Database: cfg.DB.Database,
		PoolSize: cfg.DB.PoolSize,
	})
	if err != nil {
		slog.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize schema", slog.String("error", err.Error()))
		os.Exit(1)
	}

	migrator := migration.NewMigrator(db.BunDB(), *dataDir)
	migrator.SetBatchSize(*batchSize)
	if *useCopy {
		migrator.SetUseCopy(true)
		migrator.UsePool(db.GetPool())
	}

	if *mongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(*mongoURI))
		if err != nil {
			slog.Error("Failed to connect to Mongo", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = client.Disconnect(ctx) }()

		migrator.UseMongo(client, *mongoDB)
		if err := migrator.MigrateAllFromMongo(ctx); err != nil {
			slog.Error("Migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		if err := migrator.MigrateAll(ctx); err != nil {
			slog.Error("Migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	slog.Info("Migration completed successfully!")
}
