package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-device-bridge/internal/domain"
	"github.com/tbourn/pos-device-bridge/internal/repo"
)

// TokenIssuer signs device tokens.
type TokenIssuer interface {
	IssueDevice(d *domain.Device) (string, error)
}

// SessionInvalidator drops cached session state.
type SessionInvalidator interface {
	Invalidate()
}

// ControlPayload is sent to a device on device.control.
type ControlPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Action  string `json:"action"`
}

// SessionResetPayload is sent on session.reset.
type SessionResetPayload struct {
	SessionID uint  `json:"session_id"`
	Version   int64 `json:"version"`
}

// DeviceService registers devices and pushes operator commands to them.
type DeviceService struct {
	DB       *gorm.DB
	Events   EventPublisher
	Sessions SessionInvalidator
	Tokens   TokenIssuer
	Now      func() time.Time
}

// Register creates an active device and returns it with a signed token.
func (s *DeviceService) Register(ctx context.Context, name string, kind domain.DeviceKind) (*domain.Device, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	switch kind {
	case domain.DeviceOrdering, domain.DeviceKitchen, domain.DeviceRelay:
	case "":
		kind = domain.DeviceOrdering
	default:
		return nil, "", fmt.Errorf("%w: unknown device kind %q", ErrInvalidInput, kind)
	}
	d, err := repo.CreateDevice(ctx, s.DB, name, kind)
	if err != nil {
		return nil, "", err
	}
	tok, err := s.IssueToken(ctx, d.ID)
	if err != nil {
		return nil, "", err
	}
	return d, tok, nil
}

// IssueToken signs a fresh token for an active device.
func (s *DeviceService) IssueToken(ctx context.Context, deviceID uint) (string, error) {
	d, err := s.active(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return s.Tokens.IssueDevice(d)
}

// SendControl publishes an operator command on the device's channel.
func (s *DeviceService) SendControl(ctx context.Context, deviceID uint, action, message string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if _, err := s.active(ctx, deviceID); err != nil {
		return err
	}
	return s.Events.Publish(ctx, domain.Event{
		Channel: domain.DeviceChannel(deviceID),
		Name:    domain.EventDeviceControl,
		Payload: ControlPayload{Success: true, Message: message, Action: action},
	})
}

// ResetSession forces every consumer of sessionID to rebuild its context.
// The cached session context is dropped first so the next order sees the
// upstream state the operator just changed.
func (s *DeviceService) ResetSession(ctx context.Context, sessionID uint) (int64, error) {
	if sessionID == 0 {
		return 0, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	if s.Sessions != nil {
		s.Sessions.Invalidate()
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	version := now().UnixMilli()
	err := s.Events.Publish(ctx, domain.Event{
		Channel: domain.SessionChannel(sessionID),
		Name:    domain.EventSessionReset,
		Payload: SessionResetPayload{SessionID: sessionID, Version: version},
	})
	return version, err
}

func (s *DeviceService) active(ctx context.Context, id uint) (*domain.Device, error) {
	d, err := repo.GetDevice(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	if !d.IsActive {
		return nil, ErrDeviceNotFound
	}
	return d, nil
}
