package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/4xmen/goftegu/internal/db"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/config"
)

type appStatus struct {
	GeneratedAt     time.Time
	Environment     string
	Port            string
	DatabaseDriver  string
	DatabasePath    string
	BusDriver       string
	JournalDriver   string
	Stats           *store.Stats
	DBSize          int64
	DBWALSize       int64
	DBSHMSize       int64
	DataDirSize     int64
	DataFileCount   int64
	DBWarning       string
	StorageWarnings []string
}

type statusOptions struct {
	JSON bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	status := collectStatus(context.Background(), cfg)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(ctx context.Context, cfg *config.Config) appStatus {
	status := appStatus{
		GeneratedAt:    time.Now(),
		Environment:    cfg.Environment,
		Port:           cfg.Port,
		DatabaseDriver: cfg.Database.Driver,
		DatabasePath:   cfg.Database.Path,
		BusDriver:      cfg.Bus.Driver,
		JournalDriver:  cfg.Journal.Driver,
	}

	if cfg.Database.Driver == db.DriverSQLite {
		// Opening a missing sqlite file would create it.
		if _, err := os.Stat(cfg.Database.Path); err != nil {
			status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
			return status
		}
		collectFileStats(&status, cfg.Database.Path)
	} else {
		status.DatabasePath = "(dsn hidden)"
	}

	database, err := db.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer database.Close()

	stats, err := store.New(database).Stats(ctx)
	if err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}
	status.Stats = stats
	return status
}

func collectFileStats(status *appStatus, path string) {
	if size, err := fileSize(path); err == nil {
		status.DBSize = size
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
	}
	if size, err := fileSize(path + "-wal"); err == nil {
		status.DBWALSize = size
	}
	if size, err := fileSize(path + "-shm"); err == nil {
		status.DBSHMSize = size
	}
	if bytes, files, err := dirUsage(filepath.Dir(path)); err == nil {
		status.DataDirSize = bytes
		status.DataFileCount = files
	} else {
		status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("data dir: %v", err))
	}
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func dirUsage(root string) (int64, int64, error) {
	var totalBytes, totalFiles int64

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		totalBytes += info.Size()
		totalFiles++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return totalBytes, totalFiles, nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "n/a"
	}
	return t.UTC().Format(time.RFC3339)
}

func printStatus(out io.Writer, status appStatus) {
	fmt.Fprintln(out, "Goftegu Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Database    : %s (%s)\n", status.DatabasePath, status.DatabaseDriver)
	fmt.Fprintf(out, "Bus         : %s\n", status.BusDriver)
	fmt.Fprintf(out, "Journal     : %s\n", status.JournalDriver)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Data")
	if st := status.Stats; st != nil {
		fmt.Fprintf(out, "  Users              : %d\n", st.Users)
		fmt.Fprintf(out, "  Online users       : %d\n", st.OnlineUsers)
		fmt.Fprintf(out, "  Users with keys    : %d\n", st.UsersWithKeys)
		fmt.Fprintf(out, "  Rooms              : %d\n", st.Rooms)
		fmt.Fprintf(out, "  Direct messages    : %d\n", st.DirectMessages)
		fmt.Fprintf(out, "  Encrypted messages : %d\n", st.EncryptedMessages)
		fmt.Fprintf(out, "  Unread messages    : %d\n", st.UnreadMessages)
		fmt.Fprintf(out, "  Room messages      : %d\n", st.GroupMessages)
		fmt.Fprintf(out, "  Reactions          : %d\n", st.Reactions)
		fmt.Fprintf(out, "  Messages last 24h  : %d\n", st.MessagesLast24h)
		fmt.Fprintf(out, "  Latest message at  : %s\n", formatTimestamp(st.LatestMessageAt))
	} else {
		fmt.Fprintln(out, "  Database metrics   : n/a")
	}

	if status.DatabaseDriver == db.DriverSQLite {
		totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Storage")
		fmt.Fprintf(out, "  DB file       : %s\n", formatBytes(status.DBSize))
		fmt.Fprintf(out, "  DB WAL file   : %s\n", formatBytes(status.DBWALSize))
		fmt.Fprintf(out, "  DB SHM file   : %s\n", formatBytes(status.DBSHMSize))
		fmt.Fprintf(out, "  DB footprint  : %s\n", formatBytes(totalDB))
		fmt.Fprintf(out, "  Data files    : %d\n", status.DataFileCount)
		fmt.Fprintf(out, "  Data dir size : %s\n", formatBytes(status.DataDirSize))
	}

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	footprint := status.DBSize + status.DBWALSize + status.DBSHMSize
	payload := map[string]any{
		"generated_at":    status.GeneratedAt.Format(time.RFC3339),
		"environment":     status.Environment,
		"port":            status.Port,
		"database_driver": status.DatabaseDriver,
		"database_path":   status.DatabasePath,
		"bus_driver":      status.BusDriver,
		"journal_driver":  status.JournalDriver,
		"metrics_ready":   status.Stats != nil,
		"metrics":         status.Stats,
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": footprint,
			"data_dir_bytes":     status.DataDirSize,
			"data_file_count":    status.DataFileCount,
			"db_footprint_hum":   formatBytes(footprint),
			"data_dir_hum":       formatBytes(status.DataDirSize),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
