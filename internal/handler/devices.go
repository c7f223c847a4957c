package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/middleware"
	"github.com/openclaw/channel-router/internal/model"
)

type DeviceAPI interface {
	List(ctx context.Context, userID string, limit, offset int) ([]model.DeviceLink, int, error)
	Unlink(ctx context.Context, userID, id string) error
}

type DeviceHandler struct {
	devices DeviceAPI
}

func NewDeviceHandler(devices DeviceAPI) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Delete("/{id}", h.Unlink)

	return r
}

// GET /v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	page := ParsePagination(r)
	devices, total, err := h.devices.List(r.Context(), user.ID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, NewPage(devices, total, page))
}

// DELETE /v1/devices/{id}
func (h *DeviceHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	if err := h.devices.Unlink(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
