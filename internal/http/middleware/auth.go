// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates devices. A bearer token is read from the
// Authorization header, or from the "token" query parameter for websocket
// upgrades where browsers cannot set headers. Verified claims are stashed in
// the Gin context for handlers and for the per-device rate limiter.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-device-bridge/internal/auth"
)

const (
	ctxKeyClaims   = "auth.claims"
	ctxKeyDeviceID = "deviceID"
)

// TokenParser verifies a bearer token.
type TokenParser interface {
	Parse(tok string) (*auth.Claims, error)
}

// DeviceAuth verifies the caller's token. With required=false a request
// without any token passes through anonymously; a token that is present but
// invalid is always rejected.
func DeviceAuth(p TokenParser, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			if required {
				abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			c.Next()
			return
		}
		claims, err := p.Parse(tok)
		if err != nil {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(ctxKeyClaims, claims)
		if claims.DeviceID != 0 {
			c.Set(ctxKeyDeviceID, claims.DeviceID)
		}
		c.Next()
	}
}

// RequireRole rejects callers whose token role is not in roles. It must run
// after DeviceAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			abortJSON(c, http.StatusForbidden, "forbidden", "role not permitted")
			return
		}
		c.Next()
	}
}

// ClaimsFrom returns the verified claims, if any.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ctxKeyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok && cl != nil
}

// DeviceIDFrom returns the authenticated device id, or 0 for anonymous and
// admin callers.
func DeviceIDFrom(c *gin.Context) uint {
	if v, ok := c.Get(ctxKeyDeviceID); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

func bearerToken(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}

// abortJSON writes the common error envelope from inside middleware.
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success":    false,
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
