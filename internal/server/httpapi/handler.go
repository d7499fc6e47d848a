// Package httpapi exposes the sync service as JSON over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/placesync/internal/auth"
	"github.com/and161185/placesync/internal/convert"
	"github.com/and161185/placesync/internal/errs"
	"github.com/and161185/placesync/internal/model"
	"github.com/and161185/placesync/internal/protocol"
	"github.com/and161185/placesync/internal/service"
)

// MaxBodyBytes caps a request body.
const MaxBodyBytes = 1 << 20

// Handler serves POST /sync and GET /sync/status.
type Handler struct {
	sync     service.SyncService
	verifier *auth.Verifier
	log      *zap.Logger
	mux      *http.ServeMux
}

// New builds the handler with logging, recovery and bearer auth applied.
func New(sync service.SyncService, verifier *auth.Verifier, log *zap.Logger) http.Handler {
	h := &Handler{sync: sync, verifier: verifier, log: log, mux: http.NewServeMux()}
	h.mux.Handle("POST /sync", h.authed(h.handleSync))
	h.mux.Handle("GET /sync/status", h.authed(h.handleStatus))
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return logging(log, recoverer(log, h.mux))
}

func (h *Handler) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, "no bearer token")
			return
		}
		owner, err := h.verifier.Verify(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r.WithContext(auth.WithOwnerID(r.Context(), owner)))
	})
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromCtx(r.Context())

	var req protocol.SyncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	changes, err := convert.FromEnvelopes(req.Changes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := convert.ParseCursor(req.LastSyncAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sync.Sync(r.Context(), owner, model.SyncBatch{DeviceID: req.DeviceID, Since: since, Changes: changes})
	if err != nil {
		h.fail(w, "sync", err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.SyncResponse{
		Changes:    convert.ToEnvelopes(res.Changes),
		ServerTime: protocol.FormatTime(res.ServerTime),
		Conflicts:  convert.ToEnvelopes(res.Conflicts),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerIDFromCtx(r.Context())
	st, err := h.sync.Status(r.Context(), owner)
	if err != nil {
		h.fail(w, "status", err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToStatusResponse(st))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "foreign record")
	case errors.Is(err, errs.ErrVersionConflict):
		writeError(w, http.StatusConflict, "concurrent write, retry")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
		w.WriteHeader(http.StatusRequestTimeout)
	default:
		h.log.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, protocol.ErrorResponse{Error: msg})
}
