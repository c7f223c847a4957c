package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/openclaw/channel-router/internal/metrics"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/repository"
	"github.com/openclaw/channel-router/internal/util"
)

// RoutingService decides which user and conversation an inbound message
// belongs to.
type RoutingService struct {
	deviceRepo         repository.DeviceLinkRepository
	convRepo           repository.ConversationRepository
	userRepo           repository.UserRepository
	defaultRouteUserID string
	group              singleflight.Group
}

func NewRoutingService(
	deviceRepo repository.DeviceLinkRepository,
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
	defaultRouteUserID string,
) *RoutingService {
	return &RoutingService{
		deviceRepo:         deviceRepo,
		convRepo:           convRepo,
		userRepo:           userRepo,
		defaultRouteUserID: defaultRouteUserID,
	}
}

// Resolve returns nil without error when the address has no owner: it is
// not linked and no usable default route is configured.
func (s *RoutingService) Resolve(ctx context.Context, address, profileName string) (*model.RoutingDecision, error) {
	address = NormalizeAddress(address)
	if address == "" {
		return nil, nil
	}

	device, err := s.deviceRepo.FindByPhone(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("find device link: %w", err)
	}

	userID := s.defaultRouteUserID
	source := model.RoutingSourceDefaultRoute
	if device != nil {
		userID = device.UserID
		source = model.RoutingSourceLinkedDevice
	}
	if userID == "" {
		log.Debug().Str("phone", util.MaskPhone(address)).Msg("no route for address")
		return nil, nil
	}

	exists, err := s.userRepo.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		log.Warn().
			Str("userId", userID).
			Str("source", string(source)).
			Str("phone", util.MaskPhone(address)).
			Msg("route points at a missing user, ignoring")
		return nil, nil
	}

	conv, err := s.conversationFor(ctx, userID, address, profileName)
	if err != nil {
		return nil, err
	}

	if err := s.convRepo.TouchLastMessage(ctx, conv.ID); err != nil {
		log.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to touch conversation")
	}
	if device != nil {
		if err := s.deviceRepo.Touch(ctx, address, conv.ID); err != nil {
			log.Warn().Err(err).Str("deviceId", device.ID).Msg("failed to touch device link")
		}
	}

	metrics.RoutingDecisionsTotal.WithLabelValues(string(source)).Inc()

	return &model.RoutingDecision{
		ConversationID: conv.ID,
		UserID:         userID,
		Source:         source,
	}, nil
}

// conversationFor fetches the current conversation for the address or creates
// one. Concurrent first contacts within this process share a single create.
func (s *RoutingService) conversationFor(ctx context.Context, userID, address, profileName string) (*model.Conversation, error) {
	label := SessionLabel(address)

	v, err, _ := s.group.Do(userID+"|"+label, func() (interface{}, error) {
		conv, err := s.convRepo.FindLatestByLabel(ctx, userID, label)
		if err != nil {
			return nil, fmt.Errorf("find conversation: %w", err)
		}
		if conv != nil {
			return conv, nil
		}

		conv, err = s.convRepo.Create(ctx, model.CreateConversationParams{
			UserID:       userID,
			SessionLabel: label,
			Title:        conversationTitle(profileName, address),
		})
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		log.Info().
			Str("conversationId", conv.ID).
			Str("userId", userID).
			Msg("conversation created")
		return conv, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Conversation), nil
}
