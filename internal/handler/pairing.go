package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/middleware"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/service"
	"github.com/openclaw/channel-router/internal/util"
)

type PairingAPI interface {
	Create(ctx context.Context, userID string, params service.CreatePairingParams) (*service.PairingView, error)
	List(ctx context.Context, userID string, status *model.PairingStatus, limit, offset int) ([]service.PairingView, int, error)
	Get(ctx context.Context, userID, id string) (*service.PairingView, error)
	Cancel(ctx context.Context, userID, id string) (*service.PairingView, error)
}

type PairingHandler struct {
	pairings PairingAPI
}

func NewPairingHandler(pairings PairingAPI) *PairingHandler {
	return &PairingHandler{pairings: pairings}
}

func (h *PairingHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Cancel)

	return r
}

// POST /v1/pairings
func (h *PairingHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var params service.CreatePairingParams
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}

	view, err := h.pairings.Create(r.Context(), user.ID, params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// GET /v1/pairings?status=&limit=&offset=
func (h *PairingHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var status *model.PairingStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		if !util.IsValidEnum(raw, model.PairingStatuses) {
			writeError(w, apperrors.InvalidInput("status", "must be one of pending, linked, expired, canceled"))
			return
		}
		s := model.PairingStatus(raw)
		status = &s
	}

	page := ParsePagination(r)
	views, total, err := h.pairings.List(r.Context(), user.ID, status, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewPage(views, total, page))
}

// GET /v1/pairings/{id}
func (h *PairingHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	view, err := h.pairings.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// DELETE /v1/pairings/{id}
// Cancels a pending code. The row is kept for the history view.
func (h *PairingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	view, err := h.pairings.Cancel(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}
