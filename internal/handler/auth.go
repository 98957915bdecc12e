package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/examdesk/internal/i18n"
	"github.com/pavelanni/examdesk/internal/model"
	"github.com/pavelanni/examdesk/internal/store"
)

const sessionCookieName = "examdesk_admin"

// AuthGate decides whether a presented admin secret is valid.
type AuthGate interface {
	Verify(secret string) bool
}

// SecretGate checks secrets against a bcrypt hash of the configured admin
// secret, so the plain secret is not kept in memory after startup.
type SecretGate struct {
	hash []byte
}

// NewSecretGate hashes secret. The secret is pre-hashed with SHA-256 so that
// secrets longer than bcrypt's 72 byte limit still compare in full.
func NewSecretGate(secret string) (*SecretGate, error) {
	if secret == "" {
		return nil, model.Configuration("MissingSetting", "admin-secret is not set", nil)
	}
	hash, err := bcrypt.GenerateFromPassword(digest(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, model.Configuration("InvalidSetting", "admin-secret cannot be hashed", err)
	}
	return &SecretGate{hash: hash}, nil
}

// Verify reports whether secret matches the admin secret.
func (g *SecretGate) Verify(secret string) bool {
	if secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(g.hash, digest(secret)) == nil
}

func digest(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return []byte(hex.EncodeToString(sum[:]))
}

// presentedSecret returns the secret of a request, from a Bearer header or
// the pass query parameter.
func presentedSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("pass")
}

// requireAdmin is middleware that accepts the admin secret or a valid
// session cookie.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret := presentedSecret(r); secret != "" {
			if h.auth.Verify(secret) {
				next.ServeHTTP(w, r)
				return
			}
			h.unauthorized(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			h.unauthorized(w, r)
			return
		}
		sess, err := h.store.GetAdminSession(r.Context(), cookie.Value)
		if err != nil {
			h.writeError(w, r, store.Classify("read admin session", err))
			return
		}
		if sess == nil {
			h.unauthorized(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="examdesk"`)
	writeJSON(w, http.StatusUnauthorized, errorResponse{
		Error: appI18n.T(r.Context(), "Unauthorized"),
		Code:  "Unauthorized",
	})
}

// handleAuthCheck answers whether the presented secret is valid, without
// issuing a session.
func (h *Handler) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Verify(presentedSecret(r)) {
		h.unauthorized(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type loginBody struct {
	Password string `json:"password"`
}

// handleLogin checks the secret and issues a session cookie.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	secret := presentedSecret(r)
	if secret == "" {
		if isJSON(r) {
			var body loginBody
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := decodeJSON(r, &body); err != nil {
				h.writeError(w, r, err)
				return
			}
			secret = body.Password
		} else {
			secret = r.FormValue("password")
		}
	}
	if !h.auth.Verify(secret) {
		slog.Warn("admin login failed", "remote", r.RemoteAddr)
		h.unauthorized(w, r)
		return
	}

	token, err := h.store.CreateAdminSession(r.Context())
	if err != nil {
		h.writeError(w, r, store.Classify("create admin session", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.config.CookiePath(),
		MaxAge:   int(store.AdminSessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("admin logged in", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.store.DeleteAdminSession(r.Context(), cookie.Value); err != nil {
			slog.Warn("failed to delete admin session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.config.CookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}
