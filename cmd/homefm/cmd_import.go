/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/homefm/internal/db"
	"github.com/friendsincode/homefm/internal/media"
)

var (
	importDir    string
	importDryRun bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Register songs already present in a directory",
	Long: `Scan a directory for mp3 files with an info.json sidecar and add any
that are not yet in the database. Defaults to the configured songs directory.

Examples:
  homefm import
  homefm import --dir /srv/music --dry-run
`,
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importDir, "dir", "", "Directory to scan (defaults to HOMEFM_SONGS_DIR)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "List what would be imported without writing")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	dir := importDir
	if dir == "" {
		dir = cfg.SongsDir
	}
	songs, err := media.NewLibrary(dir, logger).Scan()
	if err != nil {
		return fmt.Errorf("scan %s: %w", dir, err)
	}
	logger.Info().Str("dir", dir).Int("found", len(songs)).Msg("scanned songs directory")

	if importDryRun {
		for _, s := range songs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s - %s (%ds)\n", s.Name, s.Artist, s.Duration)
		}
		return nil
	}

	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	ctx := context.Background()
	var added, existing, failed int
	for i := range songs {
		song := songs[i]
		if _, err := st.Find(ctx, song.Name, song.Artist); err == nil {
			existing++
			continue
		}
		if _, err := st.Insert(ctx, &song); err != nil {
			failed++
			logger.Error().Err(err).Str("path", song.Path).Msg("import song")
			continue
		}
		added++
	}

	logger.Info().Int("added", added).Int("existing", existing).Int("failed", failed).Msg("import complete")
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d songs (%d already present, %d failed)\n", added, existing, failed)
	if failed > 0 {
		return fmt.Errorf("%d songs failed to import", failed)
	}
	return nil
}
