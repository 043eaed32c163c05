package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/streamroom/internal/auth"
	"github.com/immxrtalbeast/streamroom/internal/av"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/feed"
	"github.com/immxrtalbeast/streamroom/internal/repository"
	"github.com/immxrtalbeast/streamroom/internal/service"
	"github.com/immxrtalbeast/streamroom/lib/logger/slogdiscard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testLinkOrigin = "https://streamroom.test"
	eventWait      = 5 * time.Second
)

type testServer struct {
	srv      *httptest.Server
	profiles *repository.InMemoryProfileRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slogdiscard.NewDiscardLogger()

	srv := httptest.NewUnstartedServer(nil)
	wsBase := "ws://" + srv.Listener.Addr().String()

	profiles := repository.NewInMemoryProfileRepository()
	identity := service.NewIdentityResolver(profiles, log)
	retry := service.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	chat := service.NewChatStream(feed.NewMemoryChatFeed(), log, service.WithChatRetry(retry))
	presence := service.NewPresenceTracker(feed.NewMemoryPresenceFeed(), retry, log)

	tokens := av.NewKitTokenIssuer("streamroom-test", "av-secret", time.Minute)
	platform := service.NewPlatform(identity, chat, presence, service.Conference{
		Tokens:   tokens,
		Provider: av.NewWebRTCProvider(wsBase+"/api/signal", nil, log),
		Options:  service.DefaultAVOptions(),
	}, log)

	authService := auth.NewService(repository.NewInMemoryCredentialRepository(), identity, auth.Config{
		JWTSecret:  "jwt-secret",
		BcryptCost: bcrypt.MinCost,
	}, log)

	srv.Config.Handler = SetupRouter(
		nil,
		authService,
		NewUserController(authService, identity, log),
		NewRoomController(platform, authService, testLinkOrigin, log),
		NewSignalController(av.NewHub(tokens, 0, log), log),
	)
	srv.Start()
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, profiles: profiles}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func (s *testServer) signUp(t *testing.T, email, name string) (token, uid string) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/auth/signup", "", gin.H{
		"email":        email,
		"password":     "secret-pass",
		"display_name": name,
	})
	require.Equal(t, http.StatusCreated, status, body)
	user := body["user"].(map[string]any)
	return body["token"].(string), user["uid"].(string)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	status, body := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t)
	token, uid := s.signUp(t, "ada@example.test", "Ada")
	assert.NotEmpty(t, uid)

	tests := []struct {
		name   string
		path   string
		body   gin.H
		status int
	}{
		{"duplicate email", "/api/auth/signup", gin.H{"email": "ada@example.test", "password": "secret-pass"}, http.StatusConflict},
		{"weak password", "/api/auth/signup", gin.H{"email": "bob@example.test", "password": "123"}, http.StatusBadRequest},
		{"invalid email", "/api/auth/signup", gin.H{"email": "nope", "password": "secret-pass"}, http.StatusBadRequest},
		{"missing fields", "/api/auth/signin", gin.H{}, http.StatusBadRequest},
		{"wrong password", "/api/auth/signin", gin.H{"email": "ada@example.test", "password": "wrong-pass"}, http.StatusUnauthorized},
		{"sign in", "/api/auth/signin", gin.H{"email": "ada@example.test", "password": "secret-pass"}, http.StatusOK},
		{"federated disabled", "/api/auth/federated", gin.H{"assertion": "x"}, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, tt.path, "", tt.body)
			assert.Equal(t, tt.status, status, body)
		})
	}

	status, body := s.do(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, uid, body["user"].(map[string]any)["uid"])
	assert.Equal(t, "viewer", body["role"].(map[string]any)["role"])

	status, _ = s.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = s.do(t, http.MethodGet, "/api/users/me", "forged", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = s.do(t, http.MethodPatch, "/api/users/me", token, gin.H{"display_name": "Ada L."})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ada L.", body["user"].(map[string]any)["display_name"])

	profile, err := s.profiles.GetByUID(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", profile.DisplayName)
}

func TestAssignRole(t *testing.T) {
	s := newTestServer(t)
	modToken, modUID := s.signUp(t, "mod@example.test", "Mod")
	_, viewerUID := s.signUp(t, "viewer@example.test", "Viewer")

	status, _ := s.do(t, http.MethodPut, "/api/users/"+modUID+"/role", modToken, gin.H{"role": "moderator"})
	assert.Equal(t, http.StatusForbidden, status)

	require.NoError(t, s.profiles.UpdateRole(context.Background(), modUID, domain.RoleModerator))

	status, body := s.do(t, http.MethodPut, "/api/users/"+viewerUID+"/role", modToken, gin.H{"role": "broadcaster"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "broadcaster", body["role"].(map[string]any)["role"])

	profile, err := s.profiles.GetByUID(context.Background(), viewerUID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleBroadcaster, profile.Role)

	status, _ = s.do(t, http.MethodPut, "/api/users/"+viewerUID+"/role", modToken, gin.H{"role": "admin"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = s.do(t, http.MethodPut, "/api/users/ghost/role", modToken, gin.H{"role": "viewer"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDescribeRole(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/roles/moderator", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Moderator", body["label"])
	assert.Len(t, body["controls"], 4)
	assert.Equal(t, true, body["can_assign_roles"])

	status, body = s.do(t, http.MethodGet, "/api/roles/viewer", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["controls"])

	status, _ = s.do(t, http.MethodGet, "/api/roles/admin", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateRoom(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.signUp(t, "host@example.test", "Host")

	status, body := s.do(t, http.MethodPost, "/api/rooms", token, nil)
	require.Equal(t, http.StatusCreated, status)
	roomID := body["room_id"].(string)
	assert.Len(t, roomID, 8)
	assert.True(t, domain.ValidRoomID(roomID))
	assert.Equal(t, testLinkOrigin+"/room/"+roomID, body["link"])

	status, _ = s.do(t, http.MethodPost, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

type gatewayClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dialRoom(t *testing.T, roomID, token string) *gatewayClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/rooms/" + roomID + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &gatewayClient{t: t, conn: conn}
}

func (g *gatewayClient) command(cmd gin.H) {
	g.t.Helper()
	require.NoError(g.t, g.conn.WriteJSON(cmd))
}

// expect reads events until one matches, failing after eventWait.
func (g *gatewayClient) expect(match func(map[string]any) bool) map[string]any {
	g.t.Helper()
	deadline := time.Now().Add(eventWait)
	require.NoError(g.t, g.conn.SetReadDeadline(deadline))
	for {
		var ev map[string]any
		if err := g.conn.ReadJSON(&ev); err != nil {
			g.t.Fatalf("no matching event: %v", err)
		}
		if match(ev) {
			return ev
		}
	}
}

func ofType(typ string) func(map[string]any) bool {
	return func(ev map[string]any) bool { return ev["type"] == typ }
}

func TestRoomGateway(t *testing.T) {
	s := newTestServer(t)
	token, uid := s.signUp(t, "viewer1@example.test", "")
	g := s.dialRoom(t, "abcd1234", token)

	room := g.expect(ofType("room"))
	assert.Equal(t, "abcd1234", room["room"])
	assert.Equal(t, testLinkOrigin+"/room/abcd1234", room["link"])
	assert.Equal(t, "viewer", room["role"].(map[string]any)["role"])

	panel := g.expect(ofType("panel"))
	assert.Equal(t, "chat", panel["panel"])

	g.expect(func(ev map[string]any) bool {
		return ev["type"] == "av" && ev["status"] == string(domain.AVStatusJoined)
	})

	g.command(gin.H{"type": "chat", "text": "hi"})
	sent := g.expect(ofType("sent"))
	assert.Equal(t, "hi", sent["message"].(map[string]any)["text"])

	chat := g.expect(func(ev map[string]any) bool {
		return ev["type"] == "chat" && ev["count"] == float64(1)
	})
	msg := chat["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, uid, msg["author_uid"])
	assert.Equal(t, "viewer", msg["author_role"])
	assert.Equal(t, "Anonymous", msg["author_display_name"])

	g.command(gin.H{"type": "chat", "text": "   "})
	failed := g.expect(ofType("error"))
	assert.Equal(t, string(service.SendEmpty), failed["reason"])

	g.command(gin.H{"type": "panel", "panel": "participants"})
	panel = g.expect(ofType("panel"))
	assert.Equal(t, "participants", panel["panel"])

	g.command(gin.H{"type": "panel", "panel": "sideways"})
	g.expect(ofType("error"))

	g.command(gin.H{"type": "enter", "room": "r2"})
	room = g.expect(ofType("room"))
	assert.Equal(t, "r2", room["room"])
	panel = g.expect(ofType("panel"))
	assert.Equal(t, "chat", panel["panel"])

	g.command(gin.H{"type": "dance"})
	g.expect(ofType("error"))

	g.command(gin.H{"type": "leave"})
	left := g.expect(ofType("left"))
	assert.Equal(t, "r2", left["room"])

	g.command(gin.H{"type": "chat", "text": "anyone?"})
	noRoom := g.expect(ofType("error"))
	assert.Equal(t, string(service.SendRejected), noRoom["reason"])

	g.command(gin.H{"type": "enter", "room": "r3"})
	g.expect(ofType("room"))
	g.command(gin.H{"type": "sign-out"})
	g.expect(ofType("signed-out"))

	g.command(gin.H{"type": "enter", "room": "r4"})
	g.expect(ofType("error"))
}

func TestRoomGateway_RejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/rooms/abcd1234/ws?token=forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoomGateway_TwoClientsShareChat(t *testing.T) {
	s := newTestServer(t)
	aliceToken, _ := s.signUp(t, "alice@example.test", "Alice")
	bobToken, _ := s.signUp(t, "bob@example.test", "Bob")

	alice := s.dialRoom(t, "r1", aliceToken)
	alice.expect(ofType("room"))
	bob := s.dialRoom(t, "r1", bobToken)
	bob.expect(ofType("room"))

	presence := alice.expect(func(ev map[string]any) bool {
		return ev["type"] == "presence" && ev["online"] == float64(2)
	})
	assert.Len(t, presence["participants"], 2)

	alice.command(gin.H{"type": "chat", "text": "from alice"})
	bob.command(gin.H{"type": "chat", "text": "from bob"})

	for _, g := range []*gatewayClient{alice, bob} {
		chat := g.expect(func(ev map[string]any) bool {
			return ev["type"] == "chat" && ev["count"] == float64(2)
		})
		texts := []string{}
		for _, m := range chat["messages"].([]any) {
			texts = append(texts, m.(map[string]any)["text"].(string))
		}
		assert.ElementsMatch(t, []string{"from alice", "from bob"}, texts)
	}
}

func TestRoomGateway_SwitchingRoomsStopsOldEvents(t *testing.T) {
	s := newTestServer(t)
	aliceToken, _ := s.signUp(t, "alice@example.test", "Alice")
	bobToken, _ := s.signUp(t, "bob@example.test", "Bob")

	alice := s.dialRoom(t, "r1", aliceToken)
	alice.expect(ofType("room"))
	bob := s.dialRoom(t, "r1", bobToken)
	bob.expect(ofType("room"))
	alice.expect(func(ev map[string]any) bool {
		return ev["type"] == "presence" && ev["online"] == float64(2)
	})

	for i := range 20 {
		bob.command(gin.H{"type": "chat", "text": fmt.Sprintf("msg %d", i)})
	}
	alice.command(gin.H{"type": "enter", "room": "r2"})
	alice.expect(func(ev map[string]any) bool {
		return ev["type"] == "room" && ev["room"] == "r2"
	})

	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		var ev map[string]any
		if err := alice.conn.ReadJSON(&ev); err != nil {
			break
		}
		assert.NotEqual(t, "r1", ev["room"], "event from the exited room: %v", ev)
	}
}
