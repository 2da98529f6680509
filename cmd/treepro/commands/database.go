package commands

import (
	"context"
	"database/sql"

	"github.com/DKmica/TreeProAIv2-sub008/config"
	"github.com/DKmica/TreeProAIv2-sub008/db"
	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/logger"
)

// openDatabase opens and migrates a database at the given path. An
// empty path resolves through config (including the DB_PATH override).
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// cmdContext is the context used for one-shot CLI operations.
func cmdContext() context.Context {
	return context.Background()
}

// truncate shortens s for fixed-width table output.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
