/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/homefm/internal/store"
)

func (a *API) writeStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, store.ErrUnavailable):
		a.logger.Error().Err(err).Msg(op + " failed")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable")
	default:
		a.logger.Error().Err(err).Msg(op + " failed")
		writeError(w, http.StatusInternalServerError, "db_error")
	}
}

func (a *API) handleSongsList(w http.ResponseWriter, r *http.Request) {
	songs, err := a.songs.All(r.Context())
	if err != nil {
		a.writeStoreError(w, err, "list songs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"songs": songs})
}

func (a *API) handleSongsGet(w http.ResponseWriter, r *http.Request) {
	song, err := a.songs.Get(r.Context(), chi.URLParam(r, "songID"))
	if err != nil {
		a.writeStoreError(w, err, "get song")
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// handleSongsDelete removes the song row, its files and any mirrored copy.
// File cleanup failures are logged; the row is already gone.
func (a *API) handleSongsDelete(w http.ResponseWriter, r *http.Request) {
	song, err := a.songs.Delete(r.Context(), chi.URLParam(r, "songID"))
	if err != nil {
		a.writeStoreError(w, err, "delete song")
		return
	}

	if a.files != nil {
		if err := a.files.Remove(song.Path); err != nil {
			a.logger.Warn().Err(err).Str("song_id", song.ID).Msg("remove song files failed")
		}
	}
	if a.objects != nil {
		if err := a.objects.Delete(r.Context(), song.Path); err != nil {
			a.logger.Warn().Err(err).Str("song_id", song.ID).Msg("remove mirrored song failed")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

type sensitiveRequest struct {
	Sensitive *bool `json:"sensitive"`
}

func (a *API) handleSongsSetSensitive(w http.ResponseWriter, r *http.Request) {
	var req sensitiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Sensitive == nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	song, err := a.songs.SetSensitive(r.Context(), chi.URLParam(r, "songID"), *req.Sensitive)
	if err != nil {
		a.writeStoreError(w, err, "set sensitive")
		return
	}
	writeJSON(w, http.StatusOK, song)
}

func (a *API) handleSongsToggleSensitive(w http.ResponseWriter, r *http.Request) {
	song, err := a.songs.ToggleSensitive(r.Context(), chi.URLParam(r, "songID"))
	if err != nil {
		a.writeStoreError(w, err, "toggle sensitive")
		return
	}
	writeJSON(w, http.StatusOK, song)
}
