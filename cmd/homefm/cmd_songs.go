/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/friendsincode/homefm/internal/db"
)

var songsCmd = &cobra.Command{
	Use:   "songs",
	Short: "Inspect and manage stored songs",
}

var songsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored songs",
	Args:  cobra.NoArgs,
	RunE:  runSongsList,
}

var songsSensitiveCmd = &cobra.Command{
	Use:   "sensitive <song-id> <true|false>",
	Short: "Mark a song as sensitive or clear the flag",
	Long:  "Sensitive songs are skipped by the random fallback unless HOMEFM_RANDOM_INCLUDE_SENSITIVE is set.",
	Args:  cobra.ExactArgs(2),
	RunE:  runSongsSensitive,
}

func init() {
	songsCmd.AddCommand(songsListCmd)
	songsCmd.AddCommand(songsSensitiveCmd)
	rootCmd.AddCommand(songsCmd)
}

func runSongsList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	songs, err := st.All(context.Background())
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Artist", "Duration", "Sensitive"})
	for _, s := range songs {
		t.AppendRow(table.Row{s.ID, s.Name, s.Artist, s.PlayDuration(), s.Sensitive})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(songs)})
	t.Render()
	return nil
}

func runSongsSensitive(cmd *cobra.Command, args []string) error {
	sensitive, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid flag value %q: %w", args[1], err)
	}
	if err := loadConfig(); err != nil {
		return err
	}
	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close(database)

	song, err := st.SetSensitive(context.Background(), args[0], sensitive)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s - %s sensitive=%t\n", song.Name, song.Artist, song.Sensitive)
	return nil
}
