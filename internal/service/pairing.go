package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/audit"
	"github.com/openclaw/channel-router/internal/config"
	"github.com/openclaw/channel-router/internal/database"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/events"
	"github.com/openclaw/channel-router/internal/metrics"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/repository"
	"github.com/openclaw/channel-router/internal/util"
)

const (
	replyPairingLinked  = "Linked successfully! Messages from this number now go to your account."
	replyPairingExpired = "That pairing code has expired. Create a new one from the dashboard and send it again."
)

var strictCodePattern = regexp.MustCompile(`(?i)\bOA-[A-Z0-9]{6}\b`)

var canonicalCodePattern = regexp.MustCompile(`^OA-[A-Z0-9]{6}$`)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// TransportStatus describes the outbound channel pairing links point at.
type TransportStatus interface {
	Configured() bool
	FromAddress() string
}

type CreatePairingParams struct {
	ExpiresInMinutes *int   `json:"expiresInMinutes"`
	Label            string `json:"label" validate:"omitempty,max=64"`
}

type PairingView struct {
	ID          string              `json:"id"`
	Code        string              `json:"code"`
	Command     string              `json:"command"`
	Status      model.PairingStatus `json:"status"`
	Label       *string             `json:"label,omitempty"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	CreatedAt   time.Time           `json:"createdAt"`
	LinkedAt    *time.Time          `json:"linkedAt,omitempty"`
	BoundPhone  *string             `json:"boundPhone,omitempty"`
	DeepLinkURL string              `json:"deepLinkUrl,omitempty"`
	QRCodeURL   string              `json:"qrCodeUrl,omitempty"`
}

// ConsumeResult tells the caller whether an inbound message was a pairing
// command. When Consumed is true, Reply is the only message to send back.
type ConsumeResult struct {
	Consumed  bool
	Reply     string
	PairingID string
	UserID    string
}

type PairingOptions struct {
	CommandPrefix  string
	QRImageBaseURL string
}

type PairingService struct {
	db         TxRunner
	codeRepo   repository.PairingCodeRepository
	deviceRepo repository.DeviceLinkRepository
	transport  TransportStatus
	events     events.Sink
	codes      *CodeGenerator
	validate   *validator.Validate
	opts       PairingOptions
	fallback   *regexp.Regexp
	now        func() time.Time
}

func NewPairingService(
	db TxRunner,
	codeRepo repository.PairingCodeRepository,
	deviceRepo repository.DeviceLinkRepository,
	transport TransportStatus,
	sink events.Sink,
	opts PairingOptions,
) *PairingService {
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = "link"
	}
	return &PairingService{
		db:         db,
		codeRepo:   codeRepo,
		deviceRepo: deviceRepo,
		transport:  transport,
		events:     sink,
		codes:      NewCodeGenerator(codeRepo.ExistsActiveCode),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		opts:       opts,
		fallback:   regexp.MustCompile(`(?i)(?:^|\s)` + regexp.QuoteMeta(opts.CommandPrefix) + `\s+([A-Za-z0-9-]+)`),
		now:        time.Now,
	}
}

// ClampTTL bounds a requested lifetime in minutes. A nil request gets the default.
func ClampTTL(requested *int) int {
	if requested == nil {
		return config.PairingDefaultTTLMinutes
	}
	m := *requested
	if m < config.PairingMinTTLMinutes {
		return config.PairingMinTTLMinutes
	}
	if m > config.PairingMaxTTLMinutes {
		return config.PairingMaxTTLMinutes
	}
	return m
}

func (s *PairingService) sweep(ctx context.Context) error {
	n, err := s.codeRepo.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired pairing codes: %w", err)
	}
	if n > 0 {
		metrics.PairingTransitionsTotal.WithLabelValues(string(model.PairingStatusExpired)).Add(float64(n))
		log.Debug().Int64("count", n).Msg("expired pending pairing codes")
	}
	return nil
}

func (s *PairingService) Create(ctx context.Context, userID string, params CreatePairingParams) (*PairingView, error) {
	if !s.transport.Configured() {
		return nil, apperrors.NotConfigured("WhatsApp transport")
	}
	if err := s.validate.Struct(params); err != nil {
		return nil, apperrors.ValidationError("Invalid pairing parameters").WithDetails(err.Error())
	}

	if err := s.sweep(ctx); err != nil {
		return nil, err
	}

	ttl := ClampTTL(params.ExpiresInMinutes)
	code, err := s.codes.Generate(ctx)
	if err != nil {
		return nil, err
	}

	var label *string
	if l := strings.TrimSpace(params.Label); l != "" {
		label = &l
	}

	pc, err := s.codeRepo.Create(ctx, model.CreatePairingCodeParams{
		UserID:    userID,
		Code:      code,
		Command:   s.opts.CommandPrefix + " " + code,
		Label:     label,
		ExpiresAt: s.now().Add(time.Duration(ttl) * time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("create pairing code: %w", err)
	}

	metrics.PairingTransitionsTotal.WithLabelValues(string(model.PairingStatusPending)).Inc()
	s.events.Publish(events.New(events.TopicPairingCreated, userID, map[string]any{
		"pairingId": pc.ID,
		"expiresAt": pc.ExpiresAt,
	}))
	audit.Log(ctx, audit.Event{
		Type:    audit.EventPairingCreate,
		UserID:  userID,
		Details: map[string]interface{}{"code": util.MaskCode(code), "ttlMinutes": ttl},
	})

	log.Info().
		Str("code", util.MaskCode(code)).
		Str("userId", userID).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pairing code created")

	return s.view(pc), nil
}

func (s *PairingService) List(ctx context.Context, userID string, status *model.PairingStatus, limit, offset int) ([]PairingView, int, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, 0, err
	}

	filter := model.PairingFilter{UserID: userID, Status: status, Limit: limit, Offset: offset}
	codes, err := s.codeRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.codeRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count pairing codes: %w", err)
	}

	views := make([]PairingView, 0, len(codes))
	for i := range codes {
		views = append(views, *s.view(&codes[i]))
	}
	return views, total, nil
}

func (s *PairingService) Get(ctx context.Context, userID, id string) (*PairingView, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}
	pc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.view(pc), nil
}

func (s *PairingService) Cancel(ctx context.Context, userID, id string) (*PairingView, error) {
	if err := s.sweep(ctx); err != nil {
		return nil, err
	}
	pc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := model.ValidateCancel(pc.Status); err != nil {
		return nil, err
	}

	ok, err := s.codeRepo.Cancel(ctx, pc.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel pairing code: %w", err)
	}
	if !ok {
		// linked or expired between the read and the update
		current, err := s.codeRepo.FindByID(ctx, pc.ID)
		if err != nil || current == nil {
			return nil, apperrors.InvalidTransition(string(pc.Status), string(model.PairingStatusCanceled))
		}
		return nil, apperrors.InvalidTransition(string(current.Status), string(model.PairingStatusCanceled))
	}

	metrics.PairingTransitionsTotal.WithLabelValues(string(model.PairingStatusCanceled)).Inc()
	s.events.Publish(events.New(events.TopicPairingCanceled, userID, map[string]any{"pairingId": pc.ID}))
	audit.Log(ctx, audit.Event{
		Type:    audit.EventPairingCancel,
		UserID:  userID,
		Details: map[string]interface{}{"pairingId": pc.ID},
	})

	pc.Status = model.PairingStatusCanceled
	return s.view(pc), nil
}

func (s *PairingService) owned(ctx context.Context, userID, id string) (*model.PairingCode, error) {
	if !util.IsValidUUID(id) {
		return nil, apperrors.NotFound("Pairing")
	}
	pc, err := s.codeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find pairing code: %w", err)
	}
	if pc == nil {
		return nil, apperrors.NotFound("Pairing")
	}
	if pc.UserID != userID {
		return nil, apperrors.Forbidden("Pairing belongs to another user")
	}
	return pc, nil
}

// ExtractCode finds a pairing code in free text. A code in canonical form
// wins; otherwise the token after the command prefix is tried.
func (s *PairingService) ExtractCode(text string) string {
	if m := strictCodePattern.FindString(text); m != "" {
		return strings.ToUpper(m)
	}

	m := s.fallback.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	token := strings.ToUpper(m[1])
	if !strings.HasPrefix(token, pairingCodePrefix) {
		token = pairingCodePrefix + token
	}
	if !canonicalCodePattern.MatchString(token) {
		return ""
	}
	return token
}

// Consume links the sender's address when the message carries a live
// pairing code. Messages that are not pairing commands, and repeats of a
// command that already succeeded, come back with Consumed false.
func (s *PairingService) Consume(ctx context.Context, msg model.InboundMessage) (ConsumeResult, error) {
	if err := s.sweep(ctx); err != nil {
		return ConsumeResult{}, err
	}

	code := s.ExtractCode(msg.Body)
	if code == "" {
		return ConsumeResult{}, nil
	}

	pc, err := s.codeRepo.FindLatestByCode(ctx, code)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("find pairing code: %w", err)
	}
	if pc == nil {
		return ConsumeResult{}, nil
	}

	if pc.Status == model.PairingStatusExpired {
		return s.expiredResult(pc), nil
	}

	target := model.PairingStatusLinked
	if pc.IsExpired(s.now()) {
		target = model.PairingStatusExpired
	}
	if err := model.ValidateTransition(pc.Status, target); err != nil {
		log.Debug().
			Str("code", util.MaskCode(code)).
			Str("status", string(pc.Status)).
			Msg("pairing code no longer pending, routing as a normal message")
		return ConsumeResult{}, nil
	}

	if target == model.PairingStatusExpired {
		if _, err := s.codeRepo.MarkExpired(ctx, pc.ID); err != nil {
			return ConsumeResult{}, fmt.Errorf("expire pairing code: %w", err)
		}
		metrics.PairingTransitionsTotal.WithLabelValues(string(model.PairingStatusExpired)).Inc()
		return s.expiredResult(pc), nil
	}

	address := NormalizeAddress(msg.From)
	var (
		linked   bool
		previous *model.DeviceLink
		device   *model.DeviceLink
	)
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		codes := s.codeRepo.WithTx(tx)
		devices := s.deviceRepo.WithTx(tx)

		ok, err := codes.MarkLinked(ctx, pc.ID, address, msg.MessageSID)
		if err != nil {
			return fmt.Errorf("mark pairing linked: %w", err)
		}
		if !ok {
			return nil
		}
		linked = true

		previous, err = devices.FindByPhone(ctx, address)
		if err != nil {
			return fmt.Errorf("find device link: %w", err)
		}
		device, err = devices.Upsert(ctx, model.UpsertDeviceParams{
			UserID: pc.UserID,
			Phone:  address,
			Label:  deviceLabel(msg.ProfileName),
		})
		return err
	})
	if err != nil {
		return ConsumeResult{}, err
	}
	if !linked {
		// a concurrent delivery won the transition
		return ConsumeResult{}, nil
	}

	s.recordLink(ctx, pc, address, previous, device)

	return ConsumeResult{
		Consumed:  true,
		Reply:     replyPairingLinked,
		PairingID: pc.ID,
		UserID:    pc.UserID,
	}, nil
}

func (s *PairingService) recordLink(ctx context.Context, pc *model.PairingCode, address string, previous, device *model.DeviceLink) {
	metrics.PairingTransitionsTotal.WithLabelValues(string(model.PairingStatusLinked)).Inc()

	eventType := audit.EventDeviceLink
	details := map[string]interface{}{"pairingId": pc.ID}
	if previous != nil && previous.UserID != pc.UserID {
		eventType = audit.EventDeviceRelink
		details["previousUserId"] = previous.UserID
	}
	audit.Log(ctx, audit.Event{
		Type:    eventType,
		UserID:  pc.UserID,
		Phone:   util.MaskPhone(address),
		Details: details,
	})

	data := map[string]any{
		"pairingId": pc.ID,
		"phone":     util.MaskPhone(address),
	}
	if device != nil {
		data["deviceId"] = device.ID
	}
	s.events.Publish(events.New(events.TopicPairingLinked, pc.UserID, data))

	log.Info().
		Str("code", util.MaskCode(pc.Code)).
		Str("userId", pc.UserID).
		Str("phone", util.MaskPhone(address)).
		Msg("pairing successful")
}

func (s *PairingService) expiredResult(pc *model.PairingCode) ConsumeResult {
	s.events.Publish(events.New(events.TopicPairingExpired, pc.UserID, map[string]any{"pairingId": pc.ID}))
	log.Info().
		Str("code", util.MaskCode(pc.Code)).
		Str("userId", pc.UserID).
		Msg("expired pairing code presented")
	return ConsumeResult{
		Consumed:  true,
		Reply:     replyPairingExpired,
		PairingID: pc.ID,
		UserID:    pc.UserID,
	}
}

func (s *PairingService) view(pc *model.PairingCode) *PairingView {
	v := &PairingView{
		ID:         pc.ID,
		Code:       pc.Code,
		Command:    pc.Command,
		Status:     pc.Status,
		Label:      pc.Label,
		ExpiresAt:  pc.ExpiresAt,
		CreatedAt:  pc.CreatedAt,
		LinkedAt:   pc.LinkedAt,
		BoundPhone: pc.BoundPhone,
	}
	if digits := PhoneDigits(s.transport.FromAddress()); digits != "" {
		v.DeepLinkURL = "https://wa.me/" + digits + "?text=" + url.QueryEscape(pc.Command)
		if s.opts.QRImageBaseURL != "" {
			v.QRCodeURL = s.opts.QRImageBaseURL + url.QueryEscape(v.DeepLinkURL)
		}
	}
	return v
}
