package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bybit-trading-bot/internal/bot"
	"bybit-trading-bot/internal/database"
	"bybit-trading-bot/internal/events"
	"bybit-trading-bot/internal/trading"
)

type fakeBots struct {
	mu       sync.Mutex
	started  []string
	stopped  []string
	startErr error
	closed   []string
}

func (f *fakeBots) Start(mode trading.Mode, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, string(mode)+":"+userID)
	return nil
}

func (f *fakeBots) Stop(mode trading.Mode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, string(mode))
}

func (f *fakeBots) Statuses() map[string]string {
	return map[string]string{"spot": "stopped", "leverage": "stopped"}
}

func (f *fakeBots) ClosePosition(ctx context.Context, id, userID string) (*database.Position, error) {
	f.mu.Lock()
	f.closed = append(f.closed, id+":"+userID)
	f.mu.Unlock()
	return &database.Position{ID: id, UserID: userID, Status: database.PositionClosed}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeBots, *events.Bus) {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	bots := &fakeBots{}
	bus := events.NewBus()
	srv := NewServer(Config{Port: 0, JWTSecret: "test-secret"}, database.NewRepository(db), bots, bus, zerolog.Nop())
	return srv, bots, bus
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func register(t *testing.T, srv *Server, username string) (access, refresh string) {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": username,
		"password": "hunter22hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register failed: %d %s", w.Code, w.Body.String())
	}
	var resp tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.AccessToken, resp.RefreshToken
}

func TestRegisterAndDuplicateUsername(t *testing.T) {
	srv, _, _ := newTestServer(t)
	register(t, srv, "alice")

	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "password": "hunter22hunter22",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate username should 409, got %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	srv, _, _ := newTestServer(t)
	register(t, srv, "alice")

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-password",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password should 401, got %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice", "password": "hunter22hunter22",
	})
	if w.Code != http.StatusOK {
		t.Errorf("login should succeed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRefreshFlow(t *testing.T) {
	srv, _, _ := newTestServer(t)
	_, refresh := register(t, srv, "alice")

	w := doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if w := doJSON(t, srv, http.MethodGet, "/api/settings", resp.AccessToken, nil); w.Code != http.StatusOK {
		t.Errorf("refreshed token rejected: %d", w.Code)
	}

	// logout revokes the session
	doJSON(t, srv, http.MethodPost, "/api/auth/logout", "", map[string]string{"refreshToken": refresh})
	if w := doJSON(t, srv, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh}); w.Code != http.StatusUnauthorized {
		t.Errorf("revoked session should 401, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/api/settings", "/api/positions", "/api/dashboard", "/api/bot/status"} {
		if w := doJSON(t, srv, http.MethodGet, path, "", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token should 401, got %d", path, w.Code)
		}
	}
}

func TestSettingsPartialUpdate(t *testing.T) {
	srv, _, _ := newTestServer(t)
	access, _ := register(t, srv, "alice")

	w := doJSON(t, srv, http.MethodGet, "/api/settings", access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("settings read failed: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"max_positions":10`) {
		t.Fatalf("expected lazy defaults, got %s", w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPut, "/api/settings", access, map[string]interface{}{"max_positions": 5})
	if w.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", w.Code, w.Body.String())
	}

	var got database.TradingSettings
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.MaxPositions != 5 {
		t.Errorf("expected max_positions 5, got %d", got.MaxPositions)
	}
	if got.USDTPerTrade.String() != "100" {
		t.Errorf("omitted fields must keep defaults, got usdt_per_trade %s", got.USDTPerTrade)
	}
}

func TestSettingsCredentialsRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t)
	access, _ := register(t, srv, "alice")

	w := doJSON(t, srv, http.MethodPut, "/api/settings", access, map[string]string{
		"api_key": "live-key", "api_secret": "live-secret",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "live-secret") {
		t.Error("api secret must never appear in a response")
	}

	var resp database.TradingSettings
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	stored, err := srv.repo.GetTradingSettings(context.Background(), resp.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.APIKey != "live-key" || stored.APISecret != "live-secret" {
		t.Errorf("credentials not persisted: key=%q secret set=%v", stored.APIKey, stored.APISecret != "")
	}
	if !stored.HasCredentials() {
		t.Error("stored row must report credentials present")
	}

	// a later update that omits the secret keeps the stored value
	if w := doJSON(t, srv, http.MethodPut, "/api/settings", access, map[string]interface{}{"max_positions": 5}); w.Code != http.StatusOK {
		t.Fatalf("partial update failed: %d", w.Code)
	}
	stored, err = srv.repo.GetTradingSettings(context.Background(), resp.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.APISecret != "live-secret" {
		t.Error("omitted api_secret must keep the stored value")
	}
}

func TestSettingsValidationRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)
	access, _ := register(t, srv, "alice")

	w := doJSON(t, srv, http.MethodPut, "/api/settings", access, map[string]interface{}{
		"ema_fast": 30, "ema_slow": 21,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid EMA ordering should 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBotControlEndpoints(t *testing.T) {
	srv, bots, _ := newTestServer(t)
	access, _ := register(t, srv, "alice")

	if w := doJSON(t, srv, http.MethodPost, "/api/bot/margin/start", access, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode should 400, got %d", w.Code)
	}

	if w := doJSON(t, srv, http.MethodPost, "/api/bot/spot/start", access, nil); w.Code != http.StatusOK {
		t.Fatalf("spot start failed: %d", w.Code)
	}
	bots.mu.Lock()
	started := len(bots.started)
	bots.mu.Unlock()
	if started != 1 || !strings.HasPrefix(bots.started[0], "spot:") {
		t.Errorf("start not dispatched: %v", bots.started)
	}

	bots.startErr = bot.ErrAlreadyRunning
	if w := doJSON(t, srv, http.MethodPost, "/api/bot/spot/start", access, nil); w.Code != http.StatusConflict {
		t.Errorf("running engine should 409, got %d", w.Code)
	}
	bots.startErr = nil

	if w := doJSON(t, srv, http.MethodPost, "/api/bot/leverage/stop", access, nil); w.Code != http.StatusOK {
		t.Errorf("stop failed: %d", w.Code)
	}

	if w := doJSON(t, srv, http.MethodPost, "/api/bot/stop", access, nil); w.Code != http.StatusOK {
		t.Errorf("legacy stop failed: %d", w.Code)
	}
	bots.mu.Lock()
	stopped := len(bots.stopped)
	bots.mu.Unlock()
	if stopped != 3 { // leverage + both legacy
		t.Errorf("expected 3 stop dispatches, got %d: %v", stopped, bots.stopped)
	}
}

func TestClosePositionDispatch(t *testing.T) {
	srv, bots, _ := newTestServer(t)
	access, _ := register(t, srv, "alice")

	if w := doJSON(t, srv, http.MethodPost, "/api/positions/pos-1/close", access, nil); w.Code != http.StatusOK {
		t.Fatalf("close failed: %d", w.Code)
	}
	bots.mu.Lock()
	defer bots.mu.Unlock()
	if len(bots.closed) != 1 || !strings.HasPrefix(bots.closed[0], "pos-1:") {
		t.Errorf("close not dispatched with caller identity: %v", bots.closed)
	}
}

func TestWebSocketUserScopedEvents(t *testing.T) {
	srv, _, bus := newTestServer(t)
	access, _ := register(t, srv, "alice")

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// claims carry the user id; extract it from a settings read
	w := doJSON(t, srv, http.MethodGet, "/api/settings", access, nil)
	var settings database.TradingSettings
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatal(err)
	}
	userID := settings.UserID

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + access
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for srv.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.PublishBotLog("someone-else", database.LogInfo, "not yours", "", nil)
	bus.PublishBotLog(userID, database.LogInfo, "scan cycle complete", "", nil)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.UserID != userID {
		t.Errorf("foreign event leaked to this socket: %+v", ev)
	}
	if fmt.Sprintf("%v", ev.Data["message"]) != "scan cycle complete" {
		t.Errorf("unexpected payload: %+v", ev.Data)
	}

	if w := doJSON(t, srv, http.MethodGet, "/ws?token=bad", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad ws token should 401, got %d", w.Code)
	}
}
