/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package media manages downloaded song files and their metadata sidecars.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/models"
)

// ErrNoSidecar is returned when a song file has no readable metadata sidecar.
var ErrNoSidecar = errors.New("song sidecar missing")

const (
	songExt    = ".mp3"
	sidecarExt = ".info.json"
)

// Library lays out song files under a root directory.
type Library struct {
	rootDir string
	logger  zerolog.Logger
}

// NewLibrary creates a library rooted at rootDir.
func NewLibrary(rootDir string, logger zerolog.Logger) *Library {
	return &Library{
		rootDir: rootDir,
		logger:  logger.With().Str("component", "media").Logger(),
	}
}

// Root returns the library directory.
func (l *Library) Root() string {
	return l.rootDir
}

// EnsureRoot creates the library directory if needed.
func (l *Library) EnsureRoot() error {
	if err := os.MkdirAll(l.rootDir, 0o755); err != nil {
		return fmt.Errorf("create songs directory %s: %w", l.rootDir, err)
	}
	return nil
}

// Stem returns the extension-less file path used for a song.
func (l *Library) Stem(name, artist string) string {
	return filepath.Join(l.rootDir, fileStem(name, artist))
}

// SongPath returns where the mp3 for (name, artist) lives.
func (l *Library) SongPath(name, artist string) string {
	return l.Stem(name, artist) + songExt
}

// SidecarPath returns the metadata file that accompanies songPath.
func SidecarPath(songPath string) string {
	return strings.TrimSuffix(songPath, songExt) + sidecarExt
}

func fileStem(name, artist string) string {
	stem := strings.TrimSpace(name)
	if a := strings.TrimSpace(artist); a != "" {
		stem += " - " + a
	}
	stem = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", "..", "_").Replace(stem)
	if stem == "" {
		stem = "untitled"
	}
	return stem
}

// sidecar covers both the full yt-dlp info file and the lightweight record
// written back after a download.
type sidecar struct {
	Name         string  `json:"name,omitempty"`
	Artist       string  `json:"artist,omitempty"`
	Path         string  `json:"path,omitempty"`
	Duration     float64 `json:"duration"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`

	Title     string `json:"title,omitempty"`
	Uploader  string `json:"uploader,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ReadSidecar loads the metadata next to songPath into a Song. Name and
// artist fall back to the yt-dlp title and uploader.
func ReadSidecar(songPath string) (models.Song, error) {
	data, err := os.ReadFile(SidecarPath(songPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Song{}, ErrNoSidecar
		}
		return models.Song{}, fmt.Errorf("read sidecar: %w", err)
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return models.Song{}, fmt.Errorf("decode sidecar %s: %w", SidecarPath(songPath), err)
	}

	song := models.Song{
		Name:         firstNonEmpty(sc.Name, sc.Title),
		Artist:       firstNonEmpty(sc.Artist, sc.Uploader),
		Path:         songPath,
		Duration:     int(math.Ceil(sc.Duration)),
		ThumbnailURL: firstNonEmpty(sc.ThumbnailURL, sc.Thumbnail),
	}
	if song.Duration <= 0 {
		return models.Song{}, fmt.Errorf("sidecar %s has no duration", SidecarPath(songPath))
	}
	return song, nil
}

// WriteSidecar replaces the metadata next to song.Path with a lightweight record.
func WriteSidecar(song models.Song) error {
	data, err := json.Marshal(sidecar{
		Name:         song.Name,
		Artist:       song.Artist,
		Path:         song.Path,
		Duration:     float64(song.Duration),
		ThumbnailURL: song.ThumbnailURL,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(SidecarPath(song.Path), data, 0o644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// Remove deletes a song file and its sidecar. Missing files are not an error.
func (l *Library) Remove(songPath string) error {
	for _, p := range []string{songPath, SidecarPath(songPath)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	l.logger.Debug().Str("path", songPath).Msg("song files removed")
	return nil
}

// Exists reports whether both the song file and its sidecar are present.
func Exists(songPath string) bool {
	if _, err := os.Stat(songPath); err != nil {
		return false
	}
	_, err := os.Stat(SidecarPath(songPath))
	return err == nil
}

// Scan returns every song in the library that has a readable sidecar,
// ordered by path. Unreadable entries are logged and skipped.
func (l *Library) Scan() ([]models.Song, error) {
	matches, err := filepath.Glob(filepath.Join(l.rootDir, "*"+songExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	songs := make([]models.Song, 0, len(matches))
	for _, path := range matches {
		song, err := ReadSidecar(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("skipping song without usable sidecar")
			continue
		}
		songs = append(songs, song)
	}
	return songs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
