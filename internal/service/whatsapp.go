package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/openclaw/channel-router/internal/config"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/util"
)

// Transport delivers a plain-text message to a channel address.
type Transport interface {
	Send(ctx context.Context, to, body string) error
}

type WhatsAppConfig struct {
	AccountSID    string
	AuthToken     string
	APIBaseURL    string
	FromNumber    string
	RatePerSecond int
}

func WhatsAppConfigFrom(cfg *config.Config) WhatsAppConfig {
	return WhatsAppConfig{
		AccountSID:    cfg.TwilioAccountSID,
		AuthToken:     cfg.TwilioAuthToken,
		APIBaseURL:    cfg.TwilioAPIBaseURL,
		FromNumber:    cfg.WhatsAppFromNumber,
		RatePerSecond: cfg.SendRatePerSecond,
	}
}

func (c WhatsAppConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// WhatsAppService sends messages through the Twilio Messages API.
type WhatsAppService struct {
	cfg     WhatsAppConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWhatsAppService(cfg WhatsAppConfig) *WhatsAppService {
	r := cfg.RatePerSecond
	if r <= 0 {
		r = 1
	}
	return &WhatsAppService{
		cfg:     cfg,
		client:  &http.Client{Timeout: config.OutboundSendTimeout},
		limiter: rate.NewLimiter(rate.Limit(r), r),
	}
}

func (s *WhatsAppService) Configured() bool {
	return s.cfg.Configured()
}

// FromAddress is the canonical address of the companion number.
func (s *WhatsAppService) FromAddress() string {
	return NormalizeAddress(s.cfg.FromNumber)
}

func (s *WhatsAppService) Send(ctx context.Context, to, body string) error {
	if !s.Configured() {
		return apperrors.NotConfigured("WhatsApp transport")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limit: %w", err)
	}

	form := url.Values{}
	form.Set("From", s.FromAddress())
	form.Set("To", NormalizeAddress(to))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.APIBaseURL, "/"), url.PathEscape(s.cfg.AccountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().
			Err(err).
			Str("to", util.MaskPhone(to)).
			Dur("elapsed", elapsed).
			Msg("whatsapp send error")
		return apperrors.External("twilio", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Error().
			Str("to", util.MaskPhone(to)).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("whatsapp send failed")
		return apperrors.External("twilio", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	log.Info().
		Str("to", util.MaskPhone(to)).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("whatsapp message sent")
	return nil
}
