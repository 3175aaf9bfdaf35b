package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/4xmen/goftegu/internal/db"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/config"
)

type senderKeysMigrationOptions struct {
	Driver       string
	DatabasePath string
	DryRun       bool
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: sender-keys)")
	}

	switch args[0] {
	case "sender-keys":
		opts, err := parseSenderKeysMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runSenderKeysMigration(context.Background(), out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parseSenderKeysMigrationArgs(cfg *config.Config, args []string) (senderKeysMigrationOptions, error) {
	opts := senderKeysMigrationOptions{Driver: cfg.Database.Driver, DatabasePath: cfg.Database.Path}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown migration flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}

	return opts, nil
}

// runSenderKeysMigration opens the database through the regular schema
// upgrade, which adds the sender_public_key column to older files, then
// fills it for encrypted messages that were stored without it.
func runSenderKeysMigration(ctx context.Context, out io.Writer, opts senderKeysMigrationOptions) error {
	if opts.Driver == db.DriverSQLite {
		if _, err := os.Stat(opts.DatabasePath); err != nil {
			return fmt.Errorf("failed to access database path: %w", err)
		}
	}

	database, err := db.Open(opts.Driver, opts.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := store.New(database).BackfillSenderKeys(ctx, opts.DryRun)
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would backfill the sender key on %d encrypted messages.\n", n)
		return nil
	}

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Backfilled the sender key on %d encrypted messages.\n", n)
	return nil
}
