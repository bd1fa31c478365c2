/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists songs through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/homefm/internal/models"
)

var (
	// ErrNotFound is returned when no song matches the lookup.
	ErrNotFound = errors.New("song not found")
	// ErrUnavailable wraps any failure to reach the database.
	ErrUnavailable = errors.New("store unavailable")
)

// SongCache is the lookup cache consulted by Find. *cache.Cache implements it.
type SongCache interface {
	GetSong(ctx context.Context, name, artist string) (*models.Song, bool)
	SetSong(ctx context.Context, song *models.Song) error
	InvalidateSong(ctx context.Context, name, artist string) error
}

// Store is the gorm-backed song repository.
type Store struct {
	db     *gorm.DB
	cache  SongCache
	logger zerolog.Logger
}

// New creates a store. cache may be nil.
func New(db *gorm.DB, cache SongCache, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		cache:  cache,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Find looks a song up by name and artist, ignoring case and surrounding space.
func (s *Store) Find(ctx context.Context, name, artist string) (*models.Song, error) {
	name, artist = strings.TrimSpace(name), strings.TrimSpace(artist)

	if s.cache != nil {
		if song, ok := s.cache.GetSong(ctx, name, artist); ok {
			return song, nil
		}
	}

	var song models.Song
	err := s.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?) AND LOWER(artist) = LOWER(?)", name, artist).
		First(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find song", err)
	}

	if s.cache != nil {
		if err := s.cache.SetSong(ctx, &song); err != nil {
			s.logger.Debug().Err(err).Msg("cache song lookup")
		}
	}
	return &song, nil
}

// Insert persists song and assigns its ID. If another writer stored the same
// (name, artist) first, the existing record is returned instead.
func (s *Store) Insert(ctx context.Context, song *models.Song) (*models.Song, error) {
	rec := *song
	rec.ID = uuid.NewString()
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Artist = strings.TrimSpace(rec.Artist)

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		existing, findErr := s.Find(ctx, rec.Name, rec.Artist)
		if findErr == nil {
			s.logger.Debug().Str("song_id", existing.ID).Msg("song already stored")
			return existing, nil
		}
		return nil, unavailable("insert song", err)
	}

	s.logger.Info().Str("song_id", rec.ID).Str("name", rec.Name).Str("artist", rec.Artist).Msg("song stored")
	return &rec, nil
}

// RandomPick returns a uniformly chosen song. Sensitive songs are skipped when
// excludeSensitive is set. An empty selection yields ErrNotFound.
func (s *Store) RandomPick(ctx context.Context, excludeSensitive bool) (*models.Song, error) {
	candidates := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Song{})
		if excludeSensitive {
			q = q.Where("sensitive = ?", false)
		}
		return q
	}

	var count int64
	if err := candidates().Count(&count).Error; err != nil {
		return nil, unavailable("count songs", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var song models.Song
	err := candidates().Order("id").Offset(rand.IntN(int(count))).Limit(1).Find(&song).Error
	if err != nil {
		return nil, unavailable("random song", err)
	}
	if song.ID == "" {
		// Rows vanished between count and select.
		return nil, ErrNotFound
	}
	return &song, nil
}

// All returns every song ordered by name.
func (s *Store) All(ctx context.Context) ([]models.Song, error) {
	var songs []models.Song
	if err := s.db.WithContext(ctx).Order("name, artist").Find(&songs).Error; err != nil {
		return nil, unavailable("list songs", err)
	}
	return songs, nil
}

// Get returns a song by ID.
func (s *Store) Get(ctx context.Context, id string) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).First(&song, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get song", err)
	}
	return &song, nil
}

// Delete removes a song row and returns what was removed so the caller can
// clean up its files.
func (s *Store) Delete(ctx context.Context, id string) (*models.Song, error) {
	song, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Delete(&models.Song{}, "id = ?", id)
	if res.Error != nil {
		return nil, unavailable("delete song", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.invalidate(ctx, song)
	s.logger.Info().Str("song_id", id).Msg("song deleted")
	return song, nil
}

// SetSensitive sets the sensitivity flag.
func (s *Store) SetSensitive(ctx context.Context, id string, sensitive bool) (*models.Song, error) {
	song, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(song).Update("sensitive", sensitive).Error; err != nil {
		return nil, unavailable("update sensitive", err)
	}
	song.Sensitive = sensitive
	s.invalidate(ctx, song)
	return song, nil
}

// ToggleSensitive flips the sensitivity flag.
func (s *Store) ToggleSensitive(ctx context.Context, id string) (*models.Song, error) {
	var song *models.Song
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.Song
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Model(&rec).Update("sensitive", !rec.Sensitive).Error; err != nil {
			return err
		}
		rec.Sensitive = !rec.Sensitive
		song = &rec
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("toggle sensitive", err)
	}
	s.invalidate(ctx, song)
	return song, nil
}

func (s *Store) invalidate(ctx context.Context, song *models.Song) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSong(ctx, song.Name, song.Artist); err != nil {
		s.logger.Debug().Err(err).Str("song_id", song.ID).Msg("invalidate cached song")
	}
}
