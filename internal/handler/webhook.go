package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/service"
)

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type InboundDispatcher interface {
	HandleInbound(ctx context.Context, payload service.Payload)
}

// WebhookHandler acknowledges provider deliveries immediately and handles
// them in the background. The provider only ever sees an empty TwiML
// response; replies go out through the transport.
type WebhookHandler struct {
	dispatcher InboundDispatcher
	timeout    time.Duration
	wg         sync.WaitGroup
}

func NewWebhookHandler(dispatcher InboundDispatcher, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{dispatcher: dispatcher, timeout: timeout}
}

// POST /whatsapp/webhook
func (h *WebhookHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := parsePayload(r)
	if err != nil {
		log.Warn().Err(err).Msg("unreadable webhook payload")
	} else {
		h.dispatch(r.Context(), payload)
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(emptyTwiML))
}

func (h *WebhookHandler) dispatch(reqCtx context.Context, payload service.Payload) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Msg("inbound dispatch panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), h.timeout)
		defer cancel()
		h.dispatcher.HandleInbound(ctx, payload)
	}()
}

// Wait blocks until every in-flight dispatch has finished.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}

// parsePayload accepts the provider's form posts and JSON relays alike.
func parsePayload(r *http.Request) (service.Payload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode json payload: %w", err)
		}
		payload := make(service.Payload, len(raw))
		for k, v := range raw {
			if s, ok := scalarString(v); ok {
				payload[k] = s
			}
		}
		return payload, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form payload: %w", err)
	}
	payload := make(service.Payload, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			payload[k] = v[0]
		}
	}
	return payload, nil
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
