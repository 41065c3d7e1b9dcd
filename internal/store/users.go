package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("display name already taken")
	ErrInvalidPassword = errors.New("invalid password")
)

// User is a market participant. Admins additionally carry a bcrypt password
// hash; regular participants join by display name alone.
type User struct {
	ID          string
	DisplayName string
	IsAdmin     bool
	CreatedAt   time.Time
}

// CreateUser registers a participant by display name.
func (s *Store) CreateUser(displayName string) (*User, error) {
	var exists bool
	err := s.db.QueryRow("SELECT EXISTS(SELECT 1 FROM users WHERE display_name = ?)", displayName).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		"INSERT INTO users (id, display_name, is_admin, created_at) VALUES (?, ?, 0, ?)",
		id, displayName, now,
	)
	if err != nil {
		return nil, err
	}

	return &User{ID: id, DisplayName: displayName, CreatedAt: now}, nil
}

// EnsureAdmin creates the admin user with a bcrypt password hash if it does
// not already exist.
func (s *Store) EnsureAdmin(username, password string) (*User, error) {
	user, err := s.GetUserByName(username)
	if err == nil {
		return user, nil
	}
	if err != ErrUserNotFound {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	id, err := generateID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_, err = s.db.Exec(
		"INSERT INTO users (id, display_name, password_hash, is_admin, created_at) VALUES (?, ?, ?, 1, ?)",
		id, username, string(hash), now,
	)
	if err != nil {
		return nil, err
	}
	return &User{ID: id, DisplayName: username, IsAdmin: true, CreatedAt: now}, nil
}

// AuthenticateAdmin checks admin credentials.
func (s *Store) AuthenticateAdmin(username, password string) (*User, error) {
	user := &User{}
	var hash sql.NullString
	err := s.db.QueryRow(
		"SELECT id, display_name, password_hash, is_admin, created_at FROM users WHERE display_name = ? AND is_admin = 1",
		username,
	).Scan(&user.ID, &user.DisplayName, &hash, &user.IsAdmin, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if !hash.Valid {
		return nil, ErrInvalidPassword
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)); err != nil {
		return nil, ErrInvalidPassword
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(id string) (*User, error) {
	user := &User{}
	err := s.db.QueryRow(
		"SELECT id, display_name, is_admin, created_at FROM users WHERE id = ?",
		id,
	).Scan(&user.ID, &user.DisplayName, &user.IsAdmin, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByName retrieves a user by display name.
func (s *Store) GetUserByName(displayName string) (*User, error) {
	user := &User{}
	err := s.db.QueryRow(
		"SELECT id, display_name, is_admin, created_at FROM users WHERE display_name = ?",
		displayName,
	).Scan(&user.ID, &user.DisplayName, &user.IsAdmin, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func generateID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
