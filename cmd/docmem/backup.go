package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/scrypster/docmem/internal/config"
	"github.com/scrypster/docmem/internal/storage/sqlite"
)

var (
	backupDir  string
	backupKeep int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a verified copy of the SQLite database",
	Long: `Copy docmem.db into the backup directory with VACUUM INTO, check its
integrity, then delete all but the newest --keep backups. Only the sqlite
storage engine is supported; snapshot files are not included.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Storage.StorageEngine != config.EngineSQLite {
			return fmt.Errorf("backup requires the sqlite storage engine, have %q", cfg.Storage.StorageEngine)
		}
		dir := backupDir
		if dir == "" {
			dir = filepath.Join(cfg.Storage.DataPath, "backups")
		}

		db, err := sqlite.Open(cmd.Context(), filepath.Join(cfg.Storage.DataPath, sqliteFile), logger)
		if err != nil {
			return err
		}
		defer db.Close()

		info, err := db.Backup(cmd.Context(), dir)
		if err != nil {
			return err
		}
		removed, err := sqlite.PruneBackups(dir, backupKeep)
		if err != nil {
			logger.Warn("pruning backups", "dir", dir, "error", err)
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"backup": info, "pruned": removed})
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "backup directory (default: <data>/backups)")
	backupCmd.Flags().IntVar(&backupKeep, "keep", 24, "number of backups to keep")
	rootCmd.AddCommand(backupCmd)
}
