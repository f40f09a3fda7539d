// Command seed creates the schema and loads the default provider catalog.
// Useful for preparing a database before first boot.
package main

import (
	"context"
	"os"

	"github.com/prospectly/server/pkg/bootstrap"
	"github.com/prospectly/server/pkg/infrastructure/database"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.NewLogger("seed")

	db, err := database.Open(os.Getenv("DATABASE_URL"), os.Getenv("DATA_DIR"))
	if err != nil {
		logger.Error("open database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
	if err := database.Seed(ctx, db, logger); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready")
}
