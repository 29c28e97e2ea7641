// Package handlers adapts the ledger services to JSON over HTTP. Handlers
// decode, call one service operation and map the error kind to a status.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/diewo77/go-ledger/internal/apperr"
	"github.com/diewo77/go-ledger/internal/httpx"
)

// writeError maps err through apperr. Unexpected failures are logged with
// the writes that were applied and the outcome of their compensation.
func writeError(w http.ResponseWriter, log zerolog.Logger, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		ev := log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path)
		var ue *apperr.UnexpectedError
		if errors.As(err, &ue) {
			ev = ev.Str("op", ue.Op).Strs("applied", ue.Applied)
			if ue.Compensation != nil {
				ev = ev.AnErr("compensation", ue.Compensation)
			}
		}
		ev.Msg("request failed")
		httpx.JSONError(w, status, apperr.Code(err), nil)
		return
	}
	httpx.JSONError(w, status, apperr.Code(err), apperr.Details(err))
}

// decode reads the body or answers 400 itself.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.Decode(r, dst); err != nil {
		if errors.Is(err, httpx.ErrEmptyBody) {
			httpx.JSONError(w, http.StatusBadRequest, "empty_body", nil)
			return false
		}
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", map[string]string{"reason": err.Error()})
		return false
	}
	return true
}

// pathID parses the {id} wildcard or answers 400 itself.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return 0, false
	}
	return uint(id), true
}
