package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/pavelanni/examdesk/internal/model"
)

// AdminSessionTTL is how long an admin cookie session stays valid.
const AdminSessionTTL = 24 * time.Hour

// CreateAdminSession creates a new admin session token.
func (s *Store) CreateAdminSession(ctx context.Context) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO admin_sessions (id, created_at, expires_at) VALUES (?, ?, ?)`),
		token, now, now.Add(AdminSessionTTL),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetAdminSession returns the session for the given token, or nil if not found/expired.
func (s *Store) GetAdminSession(ctx context.Context, token string) (*model.AdminSession, error) {
	var sess model.AdminSession
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, created_at, expires_at FROM admin_sessions WHERE id = ?`), token,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.DeleteAdminSession(ctx, token)
		return nil, nil
	}
	return &sess, nil
}

// DeleteAdminSession removes a session token.
func (s *Store) DeleteAdminSession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM admin_sessions WHERE id = ?`), token)
	return err
}

// CleanupExpiredSessions removes all expired admin sessions.
func (s *Store) CleanupExpiredSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM admin_sessions WHERE expires_at < ?`), time.Now().UTC())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
