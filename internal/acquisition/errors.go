/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package acquisition

import "errors"

var (
	// ErrNotFound means the source had nothing matching the query.
	ErrNotFound = errors.New("song not found at source")
	// ErrTransferFailed means the download itself failed.
	ErrTransferFailed = errors.New("song transfer failed")
	// ErrStoreUnavailable means the song could not be looked up or persisted.
	ErrStoreUnavailable = errors.New("song store unavailable")
	// ErrPoolStopped is returned by Fetch once the pool has shut down.
	ErrPoolStopped = errors.New("fetch pool stopped")
)

// Failure reasons reported to clients.
const (
	ReasonNotFound         = "not_found"
	ReasonTransferFailed   = "transfer_failed"
	ReasonStoreUnavailable = "store_unavailable"
)

// FailureReason maps an Acquire error to its client-facing reason.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStoreUnavailable
	default:
		return ReasonTransferFailed
	}
}
