/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/homefm/internal/cache"
	"github.com/friendsincode/homefm/internal/db"
	"github.com/friendsincode/homefm/internal/media"
	"github.com/friendsincode/homefm/internal/models"
)

var (
	resetForce       bool
	resetDeleteSongs bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the song database and optionally delete downloaded files",
	Long: `Reset homefm to a fresh state.

This command will:
- Drop the songs table
- Re-create it empty
- Optionally delete every downloaded song and sidecar

WARNING: This action is irreversible!

Examples:
  # Interactive reset (will prompt for confirmation)
  homefm reset

  # Force reset and delete downloaded songs
  homefm reset --force --delete-songs
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().BoolVar(&resetDeleteSongs, "delete-songs", false, "Also delete downloaded song files")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Fprintln(cmd.OutOrStdout(), "This will delete every stored song record.")
		if resetDeleteSongs {
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded files in %s will also be removed.\n", cfg.SongsDir)
		}
		fmt.Fprint(cmd.OutOrStdout(), "Type 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled.")
			return nil
		}
	}

	logger.Info().Bool("delete_songs", resetDeleteSongs).Msg("starting database reset")

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close(database)

	if err := database.Migrator().DropTable(&models.Song{}); err != nil {
		logger.Debug().Err(err).Msg("drop songs table (may not exist)")
	}

	if resetDeleteSongs {
		library := media.NewLibrary(cfg.SongsDir, logger)
		songs, err := library.Scan()
		if err != nil {
			logger.Warn().Err(err).Msg("scan songs directory")
		}
		for _, s := range songs {
			if err := library.Remove(s.Path); err != nil {
				logger.Warn().Err(err).Str("path", s.Path).Msg("failed to delete song")
			}
		}
		logger.Info().Int("count", len(songs)).Msg("downloaded songs deleted")
	}

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		c, err := cache.New(cacheCfg, logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		defer c.Close()
		if err := c.FlushAll(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("flush song cache")
		}
	}

	logger.Info().Msg("reset complete")
	fmt.Fprintln(cmd.OutOrStdout(), "Reset complete. Start the station with: homefm serve")
	return nil
}
