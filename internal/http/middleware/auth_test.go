package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/domain"
)

func authRouter(iss *auth.Issuer, required bool, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(DeviceAuth(iss, required))
	if len(roles) > 0 {
		r.Use(RequireRole(roles...))
	}
	r.GET("/whoami", func(c *gin.Context) {
		role := ""
		if cl, ok := ClaimsFrom(c); ok {
			role = cl.Role
		}
		c.JSON(http.StatusOK, gin.H{"device_id": DeviceIDFrom(c), "role": role})
	})
	return r
}

func doAuth(r *gin.Engine, target, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestDeviceAuth_BearerAndQueryToken(t *testing.T) {
	iss := auth.NewIssuer("test-secret", time.Hour)
	tok, err := iss.IssueDevice(&domain.Device{ID: 8, Kind: domain.DeviceOrdering})
	require.NoError(t, err)
	r := authRouter(iss, true)

	w := doAuth(r, "/whoami", "Bearer "+tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device_id":8,"role":"device"}`, w.Body.String())

	w = doAuth(r, "/whoami?token="+tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device_id":8,"role":"device"}`, w.Body.String())
}

func TestDeviceAuth_MissingAndInvalid(t *testing.T) {
	iss := auth.NewIssuer("test-secret", time.Hour)
	other, err := auth.NewIssuer("other-secret", time.Hour).IssueDevice(&domain.Device{ID: 8})
	require.NoError(t, err)

	w := doAuth(authRouter(iss, true), "/whoami", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthorized", body["code"])

	optional := authRouter(iss, false)
	w = doAuth(optional, "/whoami", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device_id":0,"role":""}`, w.Body.String())

	w = doAuth(optional, "/whoami", "Bearer "+other)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doAuth(optional, "/whoami", "Basic Zm9vOmJhcg==")
	assert.Equal(t, http.StatusOK, w.Code, "non-bearer schemes are treated as anonymous")
}

func TestRequireRole(t *testing.T) {
	iss := auth.NewIssuer("test-secret", time.Hour)
	device, err := iss.IssueDevice(&domain.Device{ID: 2, Kind: domain.DeviceOrdering})
	require.NoError(t, err)
	relay, err := iss.IssueDevice(&domain.Device{ID: 3, Kind: domain.DeviceRelay})
	require.NoError(t, err)
	admin, err := iss.IssueAdmin("ops")
	require.NoError(t, err)

	r := authRouter(iss, false, auth.RoleRelay, auth.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, doAuth(r, "/whoami", "").Code)
	assert.Equal(t, http.StatusForbidden, doAuth(r, "/whoami", "Bearer "+device).Code)

	w := doAuth(r, "/whoami", "Bearer "+relay)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device_id":3,"role":"relay"}`, w.Body.String())

	w = doAuth(r, "/whoami", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"device_id":0,"role":"admin"}`, w.Body.String())
}
