package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/pos-device-bridge/internal/auth"
	"github.com/tbourn/pos-device-bridge/internal/domain"
)

func startHub(t *testing.T, claims *auth.Claims) (*Hub, *websocket.Conn) {
	t.Helper()
	h := NewHub(8)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(conn, claims)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, func() bool { return h.Clients() == 1 })
	return h, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHub_DeviceReceivesOwnChannel(t *testing.T) {
	h, conn := startHub(t, &auth.Claims{DeviceID: 4, Role: auth.RoleDevice})
	waitFor(t, func() bool { return h.Subscribers("device.4") == 1 })

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := h.Deliver(domain.Delivery{ID: 9, Channel: "device.4", Event: domain.EventOrderCompleted, Payload: json.RawMessage(`{"order_id":42}`), Timestamp: ts})
	require.NoError(t, err)

	var f Frame
	readJSON(t, conn, &f)
	assert.Equal(t, uint(9), f.ID)
	assert.Equal(t, domain.EventOrderCompleted, f.Event)
	assert.JSONEq(t, `{"order_id":42}`, string(f.Payload))
	assert.True(t, ts.Equal(f.Timestamp))
}

func TestHub_SubscribeAuthorization(t *testing.T) {
	h, conn := startHub(t, &auth.Claims{DeviceID: 4, Role: auth.RoleDevice})

	require.NoError(t, conn.WriteJSON(Command{Action: "subscribe", Channel: "session.2"}))
	var r Reply
	readJSON(t, conn, &r)
	assert.Equal(t, Reply{Type: "subscribed", Channel: "session.2"}, r)
	assert.Equal(t, 1, h.Subscribers("session.2"))

	require.NoError(t, conn.WriteJSON(Command{Action: "subscribe", Channel: domain.ChannelAdminPrint}))
	readJSON(t, conn, &r)
	assert.Equal(t, "error", r.Type)
	assert.Zero(t, h.Subscribers(domain.ChannelAdminPrint))

	require.NoError(t, conn.WriteJSON(Command{Action: "unsubscribe", Channel: "session.2"}))
	readJSON(t, conn, &r)
	assert.Equal(t, "unsubscribed", r.Type)
	assert.Zero(t, h.Subscribers("session.2"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	readJSON(t, conn, &r)
	assert.Equal(t, "malformed command", r.Message)
}

func TestHub_RelaySubscribesToPrintChannel(t *testing.T) {
	h, conn := startHub(t, &auth.Claims{DeviceID: 2, Role: auth.RoleRelay})
	require.NoError(t, conn.WriteJSON(Command{Action: "subscribe", Channel: domain.ChannelAdminPrint}))
	var r Reply
	readJSON(t, conn, &r)
	require.Equal(t, "subscribed", r.Type)

	require.NoError(t, h.Deliver(domain.Delivery{ID: 1, Channel: domain.ChannelAdminPrint, Event: domain.EventOrderPrinted, Payload: json.RawMessage(`{}`)}))
	var f Frame
	readJSON(t, conn, &f)
	assert.Equal(t, domain.ChannelAdminPrint, f.Channel)
}

func TestHub_DeliverWithoutSubscribers(t *testing.T) {
	h := NewHub(0)
	err := h.Deliver(domain.Delivery{Channel: "device.1", Event: "x", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrNoSubscribers)
}

func TestHub_DisconnectCleansUp(t *testing.T) {
	h, conn := startHub(t, &auth.Claims{DeviceID: 5, Role: auth.RoleDevice})
	require.NoError(t, conn.Close())
	waitFor(t, func() bool { return h.Clients() == 0 })
	assert.Zero(t, h.Subscribers("device.5"))
}

func TestHub_CloseAll(t *testing.T) {
	h, conn := startHub(t, &auth.Claims{Role: auth.RoleAdmin})
	h.CloseAll()
	waitFor(t, func() bool { return h.Clients() == 0 })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
