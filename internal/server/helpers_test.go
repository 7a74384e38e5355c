package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/realtime"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/Tyrowin/chatrelay/internal/store/sqlstore"
)

const (
	testOrigin = "http://localhost:3000"
	testSecret = "test-secret"
)

// testEnv is a running server backed by a temporary sqlite database with
// users u1, u2 and u3. u1 and u2 participate in chat1.
type testEnv struct {
	server *httptest.Server
	hub    *Hub
	store  *sqlstore.Store
	writer *realtime.Writer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlstore.Open(filepath.Join(t.TempDir(), "chatrelay.db"))
	require.NoError(t, err)
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, st.DB().Create(&store.User{ID: id, Username: "user-" + id}).Error)
	}
	for _, id := range []string{"u1", "u2"} {
		require.NoError(t, st.DB().Create(&store.ChatParticipant{ChatID: "chat1", UserID: id}).Error)
	}

	log := logger.Discard()
	writer := realtime.NewWriter(log, 64, time.Second)
	hub := NewHub(st, writer, log)
	StartHub(hub)

	handlers := NewHandlers(
		hub,
		auth.NewJWTVerifier(testSecret),
		st,
		NewOriginPolicy([]string{testOrigin}, log),
		ClientConfig{MaxMessageSize: 4096, LookupTimeout: time.Second},
		log,
	)
	srv := httptest.NewServer(SetupRoutes(handlers))

	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
		srv.Close()
		_ = writer.Close(context.Background())
		_ = st.Close()
	})
	return &testEnv{server: srv, hub: hub, store: st, writer: writer}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func signToken(t *testing.T, userID any) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// dial opens a websocket for userID and waits until the hub registered it.
func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	before := len(e.hub.Engine().Registry().ConnectionsFor(userID))

	header := http.Header{}
	header.Set("Origin", testOrigin)
	header.Set("Authorization", "Bearer "+signToken(t, userID))

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL(), header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return len(e.hub.Engine().Registry().ConnectionsFor(userID)) > before
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

// joinChat joins chatID and waits until the room has want members.
func (e *testEnv) joinChat(t *testing.T, conn *websocket.Conn, chatID string, want int) {
	t.Helper()
	sendEvent(t, conn, realtime.EventJoinChat, map[string]string{"chatId": chatID})
	require.Eventually(t, func() bool {
		return len(e.hub.Engine().Router().MembersOf(chatID)) == want
	}, 2*time.Second, 10*time.Millisecond)
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := realtime.Encode(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) realtime.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env realtime.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// expectSilence asserts nothing arrives on conn for a short while.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, msg, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", msg)
}

func decodeJSON[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func getJSON(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
