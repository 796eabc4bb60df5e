// Package main is the PrepOS schema tool.
//
// Usage:
//
//	go run ./cmd/migrate up      # create or update every table
//	go run ./cmd/migrate status  # check connectivity and pool stats
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"prepos/internal/config"
	"prepos/internal/db"
	"prepos/internal/logging"
)

func main() {
	for _, f := range []string{".env", "../.env", "../../.env"} {
		_ = godotenv.Load(f)
	}
	defer logging.Sync()
	log := logging.L().Named("migrate")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Only the database settings are needed, so skip full validation.
	var dbCfg config.DatabaseConfig
	if err := envconfig.Process("", &dbCfg); err != nil {
		log.Fatal("failed to process environment", zap.Error(err))
	}

	switch os.Args[1] {
	case "up":
		// connecting applies the schema
		database := connect(dbCfg, log)
		defer database.Close()
		log.Info("schema up to date", zap.String("driver", dbCfg.Driver))
	case "status":
		database := connect(dbCfg, log)
		defer database.Close()
		if err := database.Health(); err != nil {
			log.Fatal("database unhealthy", zap.Error(err))
		}
		log.Info("database healthy", zap.Any("stats", database.GetStats()))
	case "help":
		printUsage()
	default:
		log.Error("unknown command", zap.String("command", os.Args[1]))
		printUsage()
		os.Exit(1)
	}
}

func connect(cfg config.DatabaseConfig, log *zap.Logger) *db.Database {
	database, err := db.NewDatabase(cfg, logging.L())
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	return database
}

func printUsage() {
	fmt.Print(`
PrepOS schema tool

Usage:
  migrate <command>

Commands:
  up       Create or update every table
  status   Check connectivity and show pool stats
  help     Show this help message

Environment Variables:
  DB_DRIVER      postgres (default) or sqlite
  DATABASE_URL   Connection URL or sqlite file path
  DB_DEBUG       Log every statement
`)
}
