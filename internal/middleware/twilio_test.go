package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/channel-router/internal/util"
)

func TestSignaturePayload(t *testing.T) {
	params := url.Values{
		"Body": {"hello"},
		"From": {"whatsapp:+15551234567"},
		"To":   {"whatsapp:+15550001111"},
	}
	assert.Equal(t,
		"https://example.com/whatsapp/webhookBodyhelloFromwhatsapp:+15551234567Towhatsapp:+15550001111",
		SignaturePayload("https://example.com/whatsapp/webhook", params),
	)
	assert.Equal(t, "https://example.com/x", SignaturePayload("https://example.com/x", nil))
}

func TestTwilioSignatureMiddleware(t *testing.T) {
	const (
		token     = "auth-token"
		publicURL = "https://router.example.com/"
	)
	form := url.Values{"From": {"whatsapp:+15551234567"}, "Body": {"link OA-AB12CD"}}
	body := form.Encode()
	validSignature := util.HmacSHA1Base64(token, SignaturePayload("https://router.example.com/whatsapp/webhook", form))

	newRequest := func(body, signature string) *http.Request {
		req := httptest.NewRequest("POST", "/whatsapp/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if signature != "" {
			req.Header.Set(TwilioSignatureHeader, signature)
		}
		return req
	}

	t.Run("passes through when the auth token is empty", func(t *testing.T) {
		handler := NewTwilioSignatureMiddleware("", publicURL).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(body, ""))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rejects request without signature header", func(t *testing.T) {
		handler := NewTwilioSignatureMiddleware(token, publicURL).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(body, ""))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("rejects request with invalid signature", func(t *testing.T) {
		handler := NewTwilioSignatureMiddleware(token, publicURL).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(body, "bm90LXRoZS1zaWduYXR1cmU="))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("accepts a valid signature and preserves the body", func(t *testing.T) {
		handler := NewTwilioSignatureMiddleware(token, publicURL).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "link OA-AB12CD", r.PostForm.Get("Body"))
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(body, validSignature))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("derives the URL from the request when no public URL is set", func(t *testing.T) {
		sig := util.HmacSHA1Base64(token, SignaturePayload("http://example.com/whatsapp/webhook", form))
		handler := NewTwilioSignatureMiddleware(token, "").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, newRequest(body, sig))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("checks the body hash of JSON deliveries", func(t *testing.T) {
		jsonBody := `{"from":"15551234567","text":"hi"}`
		sum := sha256.Sum256([]byte(jsonBody))
		path := "/whatsapp/webhook?bodySHA256=" + hex.EncodeToString(sum[:])
		sig := util.HmacSHA1Base64(token, "https://router.example.com"+path)

		handler := NewTwilioSignatureMiddleware(token, publicURL).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, jsonBody, string(got))
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest("POST", path, strings.NewReader(jsonBody))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(TwilioSignatureHeader, sig)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)

		tampered := httptest.NewRequest("POST", path, strings.NewReader(`{"from":"1","text":"x"}`))
		tampered.Header.Set("Content-Type", "application/json")
		tampered.Header.Set(TwilioSignatureHeader, sig)
		rec = httptest.NewRecorder()
		NewTwilioSignatureMiddleware(token, publicURL).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		})).ServeHTTP(rec, tampered)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
