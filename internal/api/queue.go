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

	"github.com/friendsincode/homefm/internal/config"
	"github.com/friendsincode/homefm/internal/queue"
)

func (a *API) writeQueueError(w http.ResponseWriter, err error) {
	if errors.Is(err, queue.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "queue_stopped")
		return
	}
	a.logger.Error().Err(err).Msg("queue operation failed")
	writeError(w, http.StatusInternalServerError, "queue_error")
}

func (a *API) handleQueueState(w http.ResponseWriter, r *http.Request) {
	st, err := a.queue.State(r.Context())
	if err != nil {
		a.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleQueueSkip(w http.ResponseWriter, r *http.Request) {
	if err := a.queue.Skip(); err != nil {
		a.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleQueueDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.queue.Delete(chi.URLParam(r, "uuid")); err != nil {
		a.writeQueueError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type frequencyRequest struct {
	Frequency *float64 `json:"frequency"`
}

func (a *API) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]float64{"frequency": a.tuner.Frequency()})
}

// handleConfigUpdate changes the frequency used from the next song on.
func (a *API) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req frequencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Frequency == nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if err := config.ValidateFrequency(*req.Frequency); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_frequency")
		return
	}

	a.tuner.SetFrequency(*req.Frequency)
	writeJSON(w, http.StatusOK, map[string]float64{"frequency": *req.Frequency})
}
