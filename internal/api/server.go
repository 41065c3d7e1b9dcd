// Package api is the thin HTTP/WebSocket surface over the engine. It
// contains no matching logic: handlers decode, call the engine or store,
// map rejections to status codes, and broadcast updates.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"outcry/internal/engine"
	"outcry/internal/market"
	"outcry/internal/store"
)

type Server struct {
	eng         *engine.Engine
	store       *store.Store
	hub         *Hub
	sessions    *SessionStore
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	corsOrigins []string // Allowed CORS origins (empty = allow all)
}

func NewServer(eng *engine.Engine, st *store.Store) *Server {
	s := &Server{
		eng:         eng,
		store:       st,
		hub:         NewHub(),
		sessions:    NewSessionStore(st),
		rateLimiter: NewRateLimiter(300, 1*time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.checkCORSOrigin(r.Header.Get("Origin"))
		},
	}
	return s
}

// SetCORSOrigins sets the allowed CORS origins. An empty slice allows all
// origins (development default).
func (s *Server) SetCORSOrigins(origins []string) {
	s.corsOrigins = origins
}

func (s *Server) checkCORSOrigin(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	if origin == "" {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimiter.Middleware)

	allowedOrigins := s.corsOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Token"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/join", s.handleJoin)
		r.Post("/auth/admin", s.handleAdminLogin)
		r.Post("/auth/logout", s.handleLogout)

		r.Get("/markets", s.handleListMarkets)
		r.Post("/markets", s.handleCreateMarket)
		r.Get("/markets/{id}", s.handleGetMarket)
		r.Post("/markets/{id}/close", s.handleCloseMarket)
		r.Post("/markets/{id}/settle", s.handleSettleMarket)
		r.Get("/markets/{id}/results", s.handleResults)
		r.Get("/markets/{id}/book", s.handleGetBook)
		r.Get("/markets/{id}/trades", s.handleGetTrades)
		r.Get("/markets/{id}/position", s.handleGetPosition)
		r.Get("/markets/{id}/orders", s.handleUserOrders)
		r.Post("/markets/{id}/orders", s.handlePlaceOrder)
		r.Post("/orders/{id}/aggress", s.handleAggress)
		r.Delete("/orders/{id}", s.handleCancelOrder)

		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleSetConfig)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeEngineError maps an engine rejection to an HTTP status with a
// structured {error, kind} body. Unrecognized errors are storage failures
// and surface as 500.
func writeEngineError(w http.ResponseWriter, err error) {
	kind := engine.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "INVALID_ORDER":
		status = http.StatusBadRequest
	case "MARKET_NOT_OPEN", "SPOOFING_DETECTED", "POSITION_LIMIT_EXCEEDED", "OWN_ORDER":
		status = http.StatusConflict
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "NOT_OWNER":
		status = http.StatusForbidden
	case "ALREADY_INACTIVE", "ALREADY_SETTLED":
		status = http.StatusConflict
	case "":
		log.Printf("internal error: %v", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}

// ============ Markets ============

type CreateMarketRequest struct {
	Question    string `json:"question"`
	Description string `json:"description"`
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets()
	if err != nil {
		http.Error(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil || !session.IsAdmin {
		http.Error(w, "admin required", http.StatusForbidden)
		return
	}

	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Question == "" || len(req.Question) > 500 {
		http.Error(w, "question must be 1-500 characters", http.StatusBadRequest)
		return
	}

	m, err := s.store.CreateMarket(req.Question, req.Description)
	if err != nil {
		http.Error(w, "failed to create market", http.StatusInternalServerError)
		return
	}

	s.hub.Broadcast(map[string]any{"type": "market_created", "market": m})
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMarket(chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrMarketNotFound) {
		http.Error(w, "market not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "failed to get market", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCloseMarket(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil || !session.IsAdmin {
		http.Error(w, "admin required", http.StatusForbidden)
		return
	}

	marketID := chi.URLParam(r, "id")
	if err := s.eng.CloseMarket(marketID); err != nil {
		writeEngineError(w, err)
		return
	}
	s.hub.Broadcast(map[string]any{"type": "market_closed", "market_id": marketID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type SettleMarketRequest struct {
	SettlementValue int64 `json:"settlement_value"`
}

func (s *Server) handleSettleMarket(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil || !session.IsAdmin {
		http.Error(w, "admin required", http.StatusForbidden)
		return
	}

	var req SettleMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "id")
	report, err := s.eng.SettleMarket(marketID, req.SettlementValue)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.hub.Broadcast(map[string]any{"type": "market_settled", "report": report})
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	report, err := s.eng.Results(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============ Trading ============

type PlaceOrderRequest struct {
	Side     string `json:"side"`  // "BID" or "OFFER"
	Price    int64  `json:"price"` // cents
	Quantity int64  `json:"quantity"`
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	side, ok := market.ParseSide(req.Side)
	if !ok {
		http.Error(w, "side must be BID or OFFER", http.StatusBadRequest)
		return
	}

	marketID := chi.URLParam(r, "id")
	result, err := s.eng.PlaceOrder(marketID, session.UserID, side, req.Price, req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.broadcastBookUpdate(marketID)
	for _, trade := range result.Trades {
		s.hub.Broadcast(map[string]any{"type": "trade", "trade": trade})
	}

	writeJSON(w, http.StatusOK, result)
}

type AggressRequest struct {
	Quantity    int64 `json:"quantity"`
	FillAndKill bool  `json:"fill_and_kill"`
}

func (s *Server) handleAggress(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req AggressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	orderID := chi.URLParam(r, "id")
	result, err := s.eng.Aggress(orderID, session.UserID, req.Quantity, req.FillAndKill)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if len(result.Trades) > 0 {
		s.broadcastBookUpdate(result.Trades[0].MarketID)
	}
	for _, trade := range result.Trades {
		s.hub.Broadcast(map[string]any{"type": "trade", "trade": trade})
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	orderID := chi.URLParam(r, "id")
	if err := s.eng.CancelOrder(orderID, session.UserID); err != nil {
		writeEngineError(w, err)
		return
	}

	if o, err := s.store.GetOrder(orderID); err == nil {
		s.broadcastBookUpdate(o.MarketID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleUserOrders(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	orders, err := s.store.UserOrders(chi.URLParam(r, "id"), session.UserID)
	if err != nil {
		http.Error(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	ob, err := s.eng.GetOrderBook(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ob)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := s.store.RecentTrades(chi.URLParam(r, "id"), limit)
	if err != nil {
		http.Error(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

type PositionResponse struct {
	MarketID    string  `json:"market_id"`
	UserID      string  `json:"user_id"`
	NetQuantity int64   `json:"net_quantity"`
	TotalCost   int64   `json:"total_cost"`
	AvgPrice    float64 `json:"avg_price"`
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	pos, err := s.eng.GetPosition(chi.URLParam(r, "id"), session.UserID)
	if err != nil {
		http.Error(w, "failed to get position", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, PositionResponse{
		MarketID:    pos.MarketID,
		UserID:      pos.UserID,
		NetQuantity: pos.NetQuantity,
		TotalCost:   pos.TotalCost,
		AvgPrice:    pos.AvgPrice(),
	})
}

// ============ Leaderboard & config ============

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.eng.Leaderboard()
	if err != nil {
		http.Error(w, "failed to build leaderboard", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type ConfigResponse struct {
	PositionLimit int64 `json:"position_limit"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	limit, err := s.store.PositionLimit()
	if err != nil {
		http.Error(w, "failed to read config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{PositionLimit: limit})
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session == nil || !session.IsAdmin {
		http.Error(w, "admin required", http.StatusForbidden)
		return
	}

	var req ConfigResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PositionLimit <= 0 {
		http.Error(w, "position_limit must be positive", http.StatusBadRequest)
		return
	}
	if err := s.store.SetPositionLimit(req.PositionLimit); err != nil {
		http.Error(w, "failed to update config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{PositionLimit: req.PositionLimit})
}

// ============ WebSocket ============

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) broadcastBookUpdate(marketID string) {
	ob, err := s.eng.GetOrderBook(marketID)
	if err != nil {
		return
	}
	s.hub.Broadcast(map[string]any{"type": "book", "book": ob})
}

// Shutdown stops internal goroutines (session cleanup, rate limiter, hub).
func (s *Server) Shutdown() {
	s.sessions.Stop()
	s.rateLimiter.Stop()
	s.hub.Stop()
}
