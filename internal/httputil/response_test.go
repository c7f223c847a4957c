package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/channel-router/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{"validation", apperrors.ValidationError("bad"), http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"unauthorized", apperrors.Unauthorized("no token"), http.StatusUnauthorized, apperrors.ErrCodeUnauthorized},
		{"forbidden", apperrors.Forbidden("not yours"), http.StatusForbidden, apperrors.ErrCodeForbidden},
		{"not found", apperrors.NotFound("Pairing"), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"not configured", apperrors.NotConfigured("WhatsApp transport"), http.StatusServiceUnavailable, apperrors.ErrCodeNotConfigured},
		{"allocation exhausted", apperrors.AllocationExhausted(10), http.StatusServiceUnavailable, apperrors.ErrCodeAllocationExhausted},
		{"invalid transition", apperrors.InvalidTransition("linked", "canceled"), http.StatusConflict, apperrors.ErrCodeInvalidTransition},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tc.err)

			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}
