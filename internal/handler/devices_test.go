package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/model"
)

type fakeDeviceAPI struct {
	devices   []model.DeviceLink
	unlinkErr error
	unlinked  []string
}

func (f *fakeDeviceAPI) List(_ context.Context, userID string, limit, offset int) ([]model.DeviceLink, int, error) {
	return f.devices, len(f.devices), nil
}

func (f *fakeDeviceAPI) Unlink(_ context.Context, userID, id string) error {
	if f.unlinkErr != nil {
		return f.unlinkErr
	}
	f.unlinked = append(f.unlinked, id)
	return nil
}

func serveDevices(api DeviceAPI, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Mount("/v1/devices", NewDeviceHandler(api).Routes())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDeviceHandler(t *testing.T) {
	t.Run("lists devices", func(t *testing.T) {
		api := &fakeDeviceAPI{devices: []model.DeviceLink{{ID: "d1", UserID: "user-1", Phone: "whatsapp:+15551234567"}}}

		rec := serveDevices(api, withUser(httptest.NewRequest(http.MethodGet, "/v1/devices", nil), "user-1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body Page[model.DeviceLink]
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Total)
		assert.Equal(t, "d1", body.Items[0].ID)
		assert.Equal(t, DefaultLimit, body.Limit)
	})

	t.Run("unlinks a device", func(t *testing.T) {
		api := &fakeDeviceAPI{}

		rec := serveDevices(api, withUser(httptest.NewRequest(http.MethodDelete, "/v1/devices/d1", nil), "user-1"))

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"d1"}, api.unlinked)
	})

	t.Run("unlink of another user's device is forbidden", func(t *testing.T) {
		api := &fakeDeviceAPI{unlinkErr: apperrors.Forbidden("Device belongs to another user")}

		rec := serveDevices(api, withUser(httptest.NewRequest(http.MethodDelete, "/v1/devices/d1", nil), "user-1"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("requires a user", func(t *testing.T) {
		rec := serveDevices(&fakeDeviceAPI{}, httptest.NewRequest(http.MethodGet, "/v1/devices", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
