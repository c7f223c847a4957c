package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/channel-router/internal/audit"
	apperrors "github.com/openclaw/channel-router/internal/errors"
	"github.com/openclaw/channel-router/internal/events"
	"github.com/openclaw/channel-router/internal/model"
	"github.com/openclaw/channel-router/internal/repository"
	"github.com/openclaw/channel-router/internal/util"
)

type DeviceService struct {
	deviceRepo repository.DeviceLinkRepository
	events     events.Sink
}

func NewDeviceService(deviceRepo repository.DeviceLinkRepository, sink events.Sink) *DeviceService {
	return &DeviceService{deviceRepo: deviceRepo, events: sink}
}

func (s *DeviceService) List(ctx context.Context, userID string, limit, offset int) ([]model.DeviceLink, int, error) {
	filter := model.DeviceFilter{UserID: userID, Limit: limit, Offset: offset}
	devices, err := s.deviceRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.deviceRepo.Count(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count device links: %w", err)
	}
	if devices == nil {
		devices = []model.DeviceLink{}
	}
	return devices, total, nil
}

// Unlink removes a device link owned by userID. Messages from that address
// fall back to the default route afterwards.
func (s *DeviceService) Unlink(ctx context.Context, userID, id string) error {
	if !util.IsValidUUID(id) {
		return apperrors.NotFound("Device")
	}
	device, err := s.deviceRepo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("find device link: %w", err)
	}
	if device == nil {
		return apperrors.NotFound("Device")
	}
	if device.UserID != userID {
		return apperrors.Forbidden("Device belongs to another user")
	}

	deleted, err := s.deviceRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete device link: %w", err)
	}
	if !deleted {
		return apperrors.NotFound("Device")
	}

	s.events.Publish(events.New(events.TopicDeviceUnlinked, userID, map[string]any{"deviceId": id}))
	audit.Log(ctx, audit.Event{
		Type:   audit.EventDeviceUnlink,
		UserID: userID,
		Phone:  util.MaskPhone(device.Phone),
	})
	log.Info().Str("deviceId", id).Str("userId", userID).Msg("device unlinked")
	return nil
}
