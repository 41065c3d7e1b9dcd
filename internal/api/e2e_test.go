package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outcry/internal/api"
	"outcry/internal/engine"
	"outcry/internal/store"

	"github.com/gorilla/websocket"
)

// testEnv holds the components needed for end-to-end testing
type testEnv struct {
	server *httptest.Server
	store  *store.Store
	api    *api.Server
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if _, err := st.EnsureAdmin("admin", "secret"); err != nil {
		t.Fatalf("Failed to create admin: %v", err)
	}

	srv := api.NewServer(engine.New(st), st)
	ts := httptest.NewServer(srv.Router())

	return &testEnv{server: ts, store: st, api: srv}
}

func (env *testEnv) cleanup() {
	env.server.Close()
	env.api.Shutdown()
	env.store.Close()
}

func (env *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (env *testEnv) join(t *testing.T, name string) string {
	t.Helper()
	resp, body := env.request(t, "POST", "/api/auth/join", "", map[string]string{"display_name": name})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join failed with status %d", resp.StatusCode)
	}
	return body["token"].(string)
}

func (env *testEnv) adminLogin(t *testing.T) string {
	t.Helper()
	resp, body := env.request(t, "POST", "/api/auth/admin", "", map[string]string{
		"username": "admin", "password": "secret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login failed with status %d", resp.StatusCode)
	}
	return body["token"].(string)
}

func (env *testEnv) createMarket(t *testing.T, adminToken string) string {
	t.Helper()
	resp, body := env.request(t, "POST", "/api/markets", adminToken, map[string]string{
		"question": "Will it work?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create market failed with status %d", resp.StatusCode)
	}
	return body["id"].(string)
}

func TestFullTradingFlow(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	admin := env.adminLogin(t)
	marketID := env.createMarket(t, admin)
	alice := env.join(t, "alice")
	bob := env.join(t, "bob")

	// Alice offers 5 @ 100.00.
	resp, body := env.request(t, "POST", "/api/markets/"+marketID+"/orders", alice, map[string]any{
		"side": "OFFER", "price": 10000, "quantity": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place offer failed with status %d: %v", resp.StatusCode, body)
	}
	if body["resting"] != true {
		t.Error("expected offer to rest")
	}

	// Bob lifts it.
	resp, body = env.request(t, "POST", "/api/markets/"+marketID+"/orders", bob, map[string]any{
		"side": "BID", "price": 10000, "quantity": 5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place bid failed with status %d: %v", resp.StatusCode, body)
	}
	trades := body["trades"].([]any)
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	// Book is clean; positions moved.
	resp, book := env.request(t, "GET", "/api/markets/"+marketID+"/book", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get book failed with status %d", resp.StatusCode)
	}
	if book["bids"] != nil || book["offers"] != nil {
		t.Error("expected empty book after full cross")
	}

	_, pos := env.request(t, "GET", "/api/markets/"+marketID+"/position", bob, nil)
	if pos["net_quantity"].(float64) != 5 {
		t.Errorf("expected bob at +5, got %v", pos["net_quantity"])
	}

	// Settle at 110.00 and check the report.
	resp, report := env.request(t, "POST", "/api/markets/"+marketID+"/settle", admin, map[string]any{
		"settlement_value": 11000,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settle failed with status %d: %v", resp.StatusCode, report)
	}
	results := report["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	winner := results[0].(map[string]any)
	if winner["display_name"] != "bob" || winner["linear_pnl"].(float64) != 5000 {
		t.Errorf("expected bob winning 5000, got %v", winner)
	}

	// Leaderboard reflects the settled market.
	resp, _ = env.request(t, "GET", "/api/leaderboard", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("leaderboard failed with status %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	admin := env.adminLogin(t)
	marketID := env.createMarket(t, admin)

	resp, _ := env.request(t, "POST", "/api/markets/"+marketID+"/orders", "", map[string]any{
		"side": "BID", "price": 10000, "quantity": 5,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", resp.StatusCode)
	}
}

func TestAdminRequired(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	alice := env.join(t, "alice")
	resp, _ := env.request(t, "POST", "/api/markets", alice, map[string]string{"question": "Q"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", resp.StatusCode)
	}
}

func TestRejoinResumesIdentity(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	resp, first := env.request(t, "POST", "/api/auth/join", "", map[string]string{"display_name": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join failed with status %d", resp.StatusCode)
	}
	resp, second := env.request(t, "POST", "/api/auth/join", "", map[string]string{"display_name": "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rejoin failed with status %d", resp.StatusCode)
	}
	if first["user_id"] != second["user_id"] {
		t.Error("expected rejoin to resume the same user")
	}
}

func TestEngineErrorMapping(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	admin := env.adminLogin(t)
	marketID := env.createMarket(t, admin)
	alice := env.join(t, "alice")

	env.request(t, "POST", "/api/markets/"+marketID+"/orders", alice, map[string]any{
		"side": "OFFER", "price": 15000, "quantity": 5,
	})

	// Self-crossing bid surfaces as a conflict with its rejection kind.
	resp, body := env.request(t, "POST", "/api/markets/"+marketID+"/orders", alice, map[string]any{
		"side": "BID", "price": 15000, "quantity": 5,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
	if body["kind"] != "SPOOFING_DETECTED" {
		t.Errorf("expected kind SPOOFING_DETECTED, got %v", body["kind"])
	}

	// Unknown order lookups are 404.
	resp, _ = env.request(t, "DELETE", "/api/orders/nope", alice, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown order, got %d", resp.StatusCode)
	}
}

func TestWebSocketBookBroadcast(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	admin := env.adminLogin(t)
	marketID := env.createMarket(t, admin)
	alice := env.join(t, "alice")

	wsURL := strings.Replace(env.server.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()

	env.request(t, "POST", "/api/markets/"+marketID+"/orders", alice, map[string]any{
		"side": "BID", "price": 10000, "quantity": 5,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("expected a book broadcast, got error: %v", err)
		}
		var event map[string]any
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("invalid broadcast payload: %v", err)
		}
		if event["type"] == "book" {
			return
		}
	}
}
