package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"outcry/internal/store"
)

// Session represents an authenticated session
type Session struct {
	Token     string
	UserID    string
	IsAdmin   bool
	ExpiresAt time.Time
}

// SessionStore manages active sessions with database persistence
type SessionStore struct {
	store  *store.Store
	mu     sync.RWMutex
	cache  map[string]*Session // In-memory cache for performance
	stopCh chan struct{}
}

func NewSessionStore(s *store.Store) *SessionStore {
	ss := &SessionStore{
		store:  s,
		cache:  make(map[string]*Session),
		stopCh: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

// cleanupLoop periodically removes expired sessions
func (ss *SessionStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCh:
			return
		}
	}
}

// cleanup removes all expired sessions
func (ss *SessionStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := time.Now()
	for token, session := range ss.cache {
		if now.After(session.ExpiresAt) {
			delete(ss.cache, token)
		}
	}
	if ss.store != nil {
		ss.store.CleanupExpiredSessions()
	}
}

// Stop halts the cleanup goroutine
func (ss *SessionStore) Stop() {
	close(ss.stopCh)
}

func (ss *SessionStore) Create(userID string, isAdmin bool) *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	token := generateToken()
	expiresAt := time.Now().Add(24 * time.Hour)
	session := &Session{
		Token:     token,
		UserID:    userID,
		IsAdmin:   isAdmin,
		ExpiresAt: expiresAt,
	}

	if ss.store != nil {
		ss.store.CreateSession(token, userID, expiresAt)
	}

	ss.cache[token] = session
	return session
}

func (ss *SessionStore) Get(token string) *Session {
	ss.mu.RLock()
	if session, ok := ss.cache[token]; ok {
		if time.Now().Before(session.ExpiresAt) {
			ss.mu.RUnlock()
			return session
		}
	}
	ss.mu.RUnlock()

	// Not cached (e.g. after restart); fall back to the database and learn
	// the admin flag from the user record.
	if ss.store != nil {
		dbSession, err := ss.store.GetSession(token)
		if err == nil && dbSession != nil {
			session := &Session{
				Token:     dbSession.Token,
				UserID:    dbSession.UserID,
				ExpiresAt: dbSession.ExpiresAt,
			}
			if user, err := ss.store.GetUserByID(dbSession.UserID); err == nil {
				session.IsAdmin = user.IsAdmin
			}
			ss.mu.Lock()
			ss.cache[token] = session
			ss.mu.Unlock()
			return session
		}
	}

	return nil
}

func (ss *SessionStore) Delete(token string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	delete(ss.cache, token)
	if ss.store != nil {
		ss.store.DeleteSession(token)
	}
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// getSession extracts the session from the Authorization bearer token or the
// X-Session-Token header.
func (s *Server) getSession(r *http.Request) *Session {
	token := r.Header.Get("X-Session-Token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		return nil
	}
	return s.sessions.Get(token)
}

type JoinRequest struct {
	DisplayName string `json:"display_name"`
}

type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" || len(name) > 50 {
		http.Error(w, "display_name must be 1-50 characters", http.StatusBadRequest)
		return
	}

	user, err := s.store.CreateUser(name)
	if err == store.ErrUserExists {
		// Rejoining under the same name resumes that identity.
		user, err = s.store.GetUserByName(name)
	}
	if err != nil {
		http.Error(w, "failed to join", http.StatusInternalServerError)
		return
	}

	session := s.sessions.Create(user.ID, false)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{
		Token:       session.Token,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.store.AuthenticateAdmin(req.Username, req.Password)
	if err == store.ErrUserNotFound || err == store.ErrInvalidPassword {
		http.Error(w, "invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	session := s.sessions.Create(user.ID, true)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{
		Token:       session.Token,
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		IsAdmin:     true,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session := s.getSession(r)
	if session != nil {
		s.sessions.Delete(session.Token)
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
