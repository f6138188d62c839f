// Package auth issues and verifies the HS256 bearer tokens devices present
// on HTTP calls and websocket upgrades.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/pos-device-bridge/internal/domain"
)

// Roles carried in tokens.
const (
	RoleDevice = "device"
	RoleRelay  = "relay"
	RoleAdmin  = "admin"
)

// ErrInvalidToken covers malformed, expired, or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims identify the calling device. Admin tokens carry DeviceID 0.
type Claims struct {
	DeviceID uint   `json:"device_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies device tokens with a shared secret.
type Issuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// NewIssuer returns an Issuer; ttl <= 0 issues non-expiring tokens.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

// RoleFor maps a device kind to its token role.
func RoleFor(kind domain.DeviceKind) string {
	if kind == domain.DeviceRelay {
		return RoleRelay
	}
	return RoleDevice
}

// IssueDevice signs a token for d.
func (i *Issuer) IssueDevice(d *domain.Device) (string, error) {
	return i.issue(d.ID, RoleFor(d.Kind))
}

// IssueAdmin signs an operator token.
func (i *Issuer) IssueAdmin(subject string) (string, error) {
	return i.issueWithSubject(0, RoleAdmin, subject)
}

func (i *Issuer) issue(deviceID uint, role string) (string, error) {
	return i.issueWithSubject(deviceID, role, strconv.FormatUint(uint64(deviceID), 10))
}

func (i *Issuer) issueWithSubject(deviceID uint, role, subject string) (string, error) {
	if len(i.Secret) == 0 {
		return "", errors.New("auth: empty signing secret")
	}
	now := i.Now()
	claims := Claims{
		DeviceID: deviceID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
}

// Parse verifies tok and returns its claims.
func (i *Issuer) Parse(tok string) (*Claims, error) {
	var c Claims
	parsed, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.Secret, nil
	}, jwt.WithTimeFunc(i.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	switch c.Role {
	case RoleDevice, RoleRelay:
		if c.DeviceID == 0 {
			return nil, fmt.Errorf("%w: device token without device id", ErrInvalidToken)
		}
	case RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	return &c, nil
}

// CanSubscribe reports whether the holder of c may listen on channel.
// Devices see their own channel and session channels; relays additionally
// see admin.print; admins see everything.
func (c *Claims) CanSubscribe(channel string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	if id, ok := domain.ParseDeviceChannel(channel); ok {
		return id == c.DeviceID
	}
	if domain.IsSessionChannel(channel) {
		return c.Role == RoleDevice || c.Role == RoleRelay
	}
	return channel == domain.ChannelAdminPrint && c.Role == RoleRelay
}
