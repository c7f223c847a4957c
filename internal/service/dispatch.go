package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/agent"
	"github.com/openclaw/channel-router/internal/config"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/events"
	"github.com/openclaw/channel-router/internal/metrics"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/util"
)

const (
	replyOnboarding = "This number isn't linked to an account yet. Open the dashboard, create a pairing code and send it here to get started."
	replyApology    = "Sorry, something went wrong while handling your message. Please try again in a moment."
	replyDone       = "Done."
)

// Provider field names differ between form posts and JSON relays; each list
// is tried in order.
var (
	senderFields    = []string{"From", "WaId", "from", "sender"}
	textFields      = []string{"Body", "body", "text", "message"}
	profileFields   = []string{"ProfileName", "profileName", "profile_name"}
	messageIDFields = []string{"MessageSid", "SmsMessageSid", "messageSid", "message_id"}
)

var skillCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^/skill\b`),
	regexp.MustCompile(`(?i)^create\s+(?:a\s+)?skill\b`),
	regexp.MustCompile(`(?i)^new\s+skill\b`),
	regexp.MustCompile(`(?i)^define\s+(?:a\s+)?skill\b`),
	regexp.MustCompile(`(?i)^skill\s*:`),
}

var errNoRunner = errors.New("no response generator configured")

// Payload is an untyped webhook delivery.
type Payload map[string]string

func firstField(p Payload, keys []string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(p[k]); v != "" {
			return v
		}
	}
	return ""
}

// ParseInbound pulls the sender, text and metadata out of a webhook payload.
func ParseInbound(p Payload) model.InboundMessage {
	return model.InboundMessage{
		From:        NormalizeAddress(firstField(p, senderFields)),
		Body:        firstField(p, textFields),
		ProfileName: firstField(p, profileFields),
		MessageSID:  firstField(p, messageIDFields),
	}
}

// IsSkillCommand reports whether text asks to author a skill.
func IsSkillCommand(text string) bool {
	t := strings.TrimSpace(text)
	for _, re := range skillCommandPatterns {
		if re.MatchString(t) {
			return true
		}
	}
	return false
}

type PairingConsumer interface {
	Consume(ctx context.Context, msg model.InboundMessage) (ConsumeResult, error)
}

type Router interface {
	Resolve(ctx context.Context, address, profileName string) (*model.RoutingDecision, error)
}

type FlagReader interface {
	Enabled(ctx context.Context, name string) bool
}

// Dispatcher turns one inbound message into exactly one outbound reply.
type Dispatcher struct {
	pairing   PairingConsumer
	router    Router
	flags     FlagReader
	runners   map[model.DispatchPath]agent.Runner
	transport Transport
	events    events.Sink
}

func NewDispatcher(
	pairing PairingConsumer,
	router Router,
	flags FlagReader,
	runners map[model.DispatchPath]agent.Runner,
	transport Transport,
	sink events.Sink,
) *Dispatcher {
	return &Dispatcher{
		pairing:   pairing,
		router:    router,
		flags:     flags,
		runners:   runners,
		transport: transport,
		events:    sink,
	}
}

// HandleInbound never returns an error: every failure is logged and answered
// with a fixed reply.
func (d *Dispatcher) HandleInbound(ctx context.Context, payload Payload) {
	msg := ParseInbound(payload)
	if msg.From == "" {
		log.Warn().Msg("inbound message without sender, dropping")
		metrics.InboundMessagesTotal.WithLabelValues(metrics.OutcomeMissingSender).Inc()
		return
	}
	if msg.Body == "" {
		metrics.InboundMessagesTotal.WithLabelValues(metrics.OutcomeEmptyText).Inc()
		return
	}

	logger := log.With().
		Str("phone", util.MaskPhone(msg.From)).
		Str("messageSid", msg.MessageSID).
		Logger()

	consumed, err := d.pairing.Consume(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Msg("pairing check failed")
		d.fail(ctx, msg.From, "", "", err)
		return
	}
	if consumed.Consumed {
		metrics.InboundMessagesTotal.WithLabelValues(metrics.OutcomePaired).Inc()
		d.reply(ctx, msg.From, consumed.Reply)
		return
	}

	decision, err := d.router.Resolve(ctx, msg.From, msg.ProfileName)
	if err != nil {
		logger.Error().Err(err).Msg("routing failed")
		d.fail(ctx, msg.From, "", "", err)
		return
	}
	if decision == nil {
		metrics.InboundMessagesTotal.WithLabelValues(metrics.OutcomeUnroutable).Inc()
		d.reply(ctx, msg.From, replyOnboarding)
		return
	}

	path := d.choosePath(ctx, msg.Body)
	logger = logger.With().
		Str("conversationId", decision.ConversationID).
		Str("userId", decision.UserID).
		Str("source", string(decision.Source)).
		Str("path", string(path)).
		Logger()

	start := time.Now()
	replyText, err := d.run(ctx, path, agent.RunInput{
		ConversationID: decision.ConversationID,
		UserID:         decision.UserID,
		UserMessage:    msg.Body,
	})
	elapsed := time.Since(start)
	if err != nil {
		metrics.DispatchDuration.WithLabelValues(string(path), "error").Observe(elapsed.Seconds())
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("response generation failed")
		d.fail(ctx, msg.From, decision.UserID, decision.ConversationID, apperrors.DownstreamFailure(err))
		return
	}
	metrics.DispatchDuration.WithLabelValues(string(path), "ok").Observe(elapsed.Seconds())

	if replyText == "" {
		replyText = replyDone
	}
	d.reply(ctx, msg.From, replyText)

	metrics.InboundMessagesTotal.WithLabelValues(metrics.OutcomeDispatched).Inc()
	d.events.Publish(events.New(events.TopicDispatchComplete, decision.UserID, map[string]any{
		"conversationId": decision.ConversationID,
		"source":         string(decision.Source),
		"path":           string(path),
		"durationMs":     elapsed.Milliseconds(),
	}))
	logger.Info().Dur("elapsed", elapsed).Msg("inbound message dispatched")
}

func (d *Dispatcher) choosePath(ctx context.Context, text string) model.DispatchPath {
	return selectPath(ctx, d.flags, d.runners, text)
}

// selectPath sends skill-authoring commands to the skill runner when the
// feature flag is on and that runner exists. Everything else goes to the agent.
func selectPath(ctx context.Context, flags FlagReader, runners map[model.DispatchPath]agent.Runner, text string) model.DispatchPath {
	if !IsSkillCommand(text) {
		return model.DispatchPathAgent
	}
	if _, ok := runners[model.DispatchPathSkill]; !ok {
		return model.DispatchPathAgent
	}
	if flags != nil && flags.Enabled(ctx, agent.FlagSkillBuilder) {
		return model.DispatchPathSkill
	}
	return model.DispatchPathAgent
}

// run invokes the runner and returns the last non-empty agent message.
func (d *Dispatcher) run(ctx context.Context, path model.DispatchPath, in agent.RunInput) (string, error) {
	runner, ok := d.runners[path]
	if !ok || runner == nil {
		return "", errNoRunner
	}

	var (
		mu    sync.Mutex
		reply string
	)
	err := runGuarded(ctx, runner, in, func(_ string, msg agent.Message) {
		if msg.Role != agent.RoleAgent || strings.TrimSpace(msg.Content) == "" {
			return
		}
		mu.Lock()
		reply = msg.Content
		mu.Unlock()
	})
	if err != nil {
		return "", err
	}

	mu.Lock()
	defer mu.Unlock()
	return reply, nil
}

// runGuarded turns a runner panic into an ordinary error.
func runGuarded(ctx context.Context, runner agent.Runner, in agent.RunInput, emit agent.EmitFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("runner panic: %v", rec)
		}
	}()
	return runner.Run(ctx, in, emit)
}

func (d *Dispatcher) fail(ctx context.Context, to, userID, conversationID string, err error) {
	metrics.InboundMessagesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
	d.reply(ctx, to, replyApology)
	d.events.Publish(events.New(events.TopicDispatchFailed, userID, map[string]any{
		"conversationId": conversationID,
		"code":           string(apperrors.GetCode(err)),
		"error":          err.Error(),
	}))
}

// reply is the single exit for outbound text. Send failures stop here.
func (d *Dispatcher) reply(ctx context.Context, to, body string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.OutboundSendTimeout)
	defer cancel()

	err := d.transport.Send(sendCtx, to, body)
	switch {
	case err == nil:
		metrics.OutboundSendsTotal.WithLabelValues("sent").Inc()
	case apperrors.HasCode(err, apperrors.ErrCodeNotConfigured):
		metrics.OutboundSendsTotal.WithLabelValues("skipped").Inc()
		log.Warn().Str("to", util.MaskPhone(to)).Msg("transport not configured, reply not sent")
	default:
		metrics.OutboundSendsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("to", util.MaskPhone(to)).Msg("failed to send reply")
	}
}
