/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"
	"strings"

	"github.com/friendsincode/homefm/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(&models.Song{}); err != nil {
		return err
	}
	if err := trimSongNames(database); err != nil {
		return err
	}
	return nil
}

// trimSongNames strips surrounding whitespace from names written before
// requests were normalised, so lookups by (name, artist) keep matching.
func trimSongNames(database *gorm.DB) error {
	var songs []models.Song
	if err := database.
		Where("name LIKE ? OR name LIKE ? OR artist LIKE ? OR artist LIKE ?", " %", "% ", " %", "% ").
		Find(&songs).Error; err != nil {
		return fmt.Errorf("trim song names query: %w", err)
	}

	for _, s := range songs {
		name := strings.TrimSpace(s.Name)
		artist := strings.TrimSpace(s.Artist)
		if err := database.Model(&models.Song{}).
			Where("id = ?", s.ID).
			Updates(map[string]any{"name": name, "artist": artist}).Error; err != nil {
			return fmt.Errorf("trim song %s: %w", s.ID, err)
		}
	}
	return nil
}
