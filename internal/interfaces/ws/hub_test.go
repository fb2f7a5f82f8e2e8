package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"escrow-pay.backend/internal/domain/entities"
	"escrow-pay.backend/internal/domain/status"
	"escrow-pay.backend/internal/infrastructure/notifier"
	"escrow-pay.backend/internal/interfaces/http/middleware"
	"escrow-pay.backend/pkg/jwt"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const roleHeader = "X-Test-Role"

func startHub(t *testing.T) (*Hub, *notifier.Broker, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broker := notifier.NewBroker()
	hub := NewHub(broker, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, time.Millisecond)

	r := gin.New()
	r.GET("/ws/payments", func(c *gin.Context) {
		if role := c.GetHeader(roleHeader); role != "" {
			c.Set(middleware.WalletKey, "0x1111111111111111111111111111111111111111")
			c.Set(middleware.RoleKey, role)
		}
		c.Next()
	}, hub.ServeWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, broker, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/payments"
}

func dial(t *testing.T, url, role string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set(roleHeader, role)
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func publish(t *testing.T, broker *notifier.Broker, id uuid.UUID, to status.Main) {
	t.Helper()
	payload, err := json.Marshal(entities.StatusChangedEvent{
		PaymentID: id,
		OldMain:   status.Created,
		NewMain:   to,
		OldEscrow: status.EscrowNone,
		NewEscrow: status.MainToEscrow(to),
	})
	require.NoError(t, err)
	require.NoError(t, broker.Publish(context.Background(), entities.StatusChangedTopic, payload))
}

func readEvent(t *testing.T, conn *websocket.Conn) entities.StatusChangedEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, entities.StatusChangedTopic, env.Type)

	var ev entities.StatusChangedEvent
	require.NoError(t, json.Unmarshal(env.Data, &ev))
	return ev
}

func TestHub_DeliversOnlyWatchedPayments(t *testing.T) {
	hub, broker, url := startHub(t)
	watched, other := uuid.New(), uuid.New()

	conn := dial(t, url+"?paymentId="+watched.String(), jwt.RoleUser)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	publish(t, broker, other, status.Claimed)
	publish(t, broker, watched, status.Claimed)

	ev := readEvent(t, conn)
	require.Equal(t, watched, ev.PaymentID)
	require.Equal(t, status.Claimed, ev.NewMain)
}

func TestHub_AdminSeesEverything(t *testing.T) {
	hub, broker, url := startHub(t)
	conn := dial(t, url, jwt.RoleAdmin)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	id := uuid.New()
	publish(t, broker, id, status.Cancelled)
	require.Equal(t, id, readEvent(t, conn).PaymentID)
}

func TestHub_SubscribeMessage(t *testing.T) {
	hub, broker, url := startHub(t)
	first, second := uuid.New(), uuid.New()

	conn := dial(t, url+"?paymentId="+first.String(), jwt.RoleLP)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "subscribe", PaymentID: second.String()}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		watching := false
		for _, c := range hub.clients {
			watching = c.wants(second)
		}
		return watching
	}, time.Second, time.Millisecond)

	publish(t, broker, second, status.Claimed)
	require.Equal(t, second, readEvent(t, conn).PaymentID)
}

func TestHub_RejectsBadRequests(t *testing.T) {
	_, _, url := startHub(t)
	httpURL := "http" + strings.TrimPrefix(url, "ws")

	resp, err := http.Get(httpURL + "?paymentId=" + uuid.NewString())
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	for _, q := range []string{"", "?paymentId=nope"} {
		req, err := http.NewRequest(http.MethodGet, httpURL+q, nil)
		require.NoError(t, err)
		req.Header.Set(roleHeader, jwt.RoleUser)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url+"?paymentId="+uuid.NewString(), jwt.RoleUser)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, time.Millisecond)
}
