/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Song is a downloaded, playable track. Only Sensitive changes after insert.
type Song struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(255);uniqueIndex:idx_song_lookup" json:"name"`
	Artist       string    `gorm:"type:varchar(255);uniqueIndex:idx_song_lookup" json:"artist"`
	Path         string    `json:"path"`
	Duration     int       `json:"duration"` // seconds
	Sensitive    bool      `gorm:"index" json:"sensitive"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PlayDuration returns the declared duration as a time.Duration.
func (s Song) PlayDuration() time.Duration {
	return time.Duration(s.Duration) * time.Second
}

// ScheduledEntry is a song admitted to the pending queue.
type ScheduledEntry struct {
	UUID        string    `json:"uuid"`
	Song        Song      `json:"song"`
	RequestedAt time.Time `json:"requested_at"`
}

// QueueState is a point-in-time snapshot of the playback queue.
type QueueState struct {
	Active  *Song            `json:"active"`
	Pending []ScheduledEntry `json:"pending"`
}
