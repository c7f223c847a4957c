package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/audit"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/util"
)

const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignatureMiddleware verifies that webhook deliveries were signed with
// the account's auth token. Verification is skipped when no token is set.
type TwilioSignatureMiddleware struct {
	authToken string
	publicURL string
}

func NewTwilioSignatureMiddleware(authToken, publicURL string) *TwilioSignatureMiddleware {
	return &TwilioSignatureMiddleware{
		authToken: authToken,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (m *TwilioSignatureMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		signature := r.Header.Get(TwilioSignatureHeader)
		if signature == "" {
			m.reject(w, r, "missing signature")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			log.Error().Err(err).Msg("twilio signature middleware: failed to read body")
			writeError(w, apperrors.ValidationError("Failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		fullURL := m.requestURL(r)
		var params url.Values
		if isFormBody(r) {
			params, err = url.ParseQuery(string(body))
			if err != nil {
				m.reject(w, r, "malformed form body")
				return
			}
		} else if want := r.URL.Query().Get("bodySHA256"); want != "" {
			sum := sha256.Sum256(body)
			if !util.ConstantTimeEqual(hex.EncodeToString(sum[:]), strings.ToLower(want)) {
				m.reject(w, r, "body hash mismatch")
				return
			}
		}

		expected := util.HmacSHA1Base64(m.authToken, SignaturePayload(fullURL, params))
		if !util.ConstantTimeEqual(expected, signature) {
			m.reject(w, r, "invalid signature")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *TwilioSignatureMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	log.Warn().Str("reason", reason).Msg("twilio signature middleware: rejected webhook")
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventSignatureFailure,
		Details: map[string]interface{}{"reason": reason},
	})
	writeError(w, apperrors.Forbidden("Invalid webhook signature"))
}

// requestURL rebuilds the URL Twilio signed. Behind a proxy the configured
// public URL is the only reliable source.
func (m *TwilioSignatureMiddleware) requestURL(r *http.Request) string {
	base := m.publicURL
	if base == "" {
		scheme := "https"
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else if r.TLS == nil {
			scheme = "http"
		}
		base = scheme + "://" + r.Host
	}
	return base + r.URL.RequestURI()
}

// SignaturePayload is the string Twilio signs: the full URL followed by each
// POST parameter name and value, sorted by name.
func SignaturePayload(fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)
		for _, v := range values {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return b.String()
}

func isFormBody(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
