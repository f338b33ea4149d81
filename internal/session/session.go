package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lireddit/lireddit/internal/cache"
	"github.com/lireddit/lireddit/pkg/config"
)

const keyPrefix = "sess:"

// ErrNoSession is returned when a token is missing, malformed, expired or revoked
var ErrNoSession = errors.New("no active session")

// Claims is the signed payload carried by the session cookie. The token only
// names a server-side session; revoking that session invalidates the token.
type Claims struct {
	SessionID string `json:"sid"`
	UserID    int64  `json:"uid"`
	jwt.RegisteredClaims
}

// Manager issues, resolves and revokes sessions
type Manager struct {
	store      cache.Store
	secret     []byte
	ttl        time.Duration
	cookieName string
	secure     bool
	now        func() time.Time
}

// NewManager creates a session manager backed by store
func NewManager(store cache.Store, cfg *config.SessionConfig) *Manager {
	return &Manager{
		store:      store,
		secret:     []byte(cfg.Secret),
		ttl:        cfg.TTL,
		cookieName: cfg.CookieName,
		secure:     cfg.CookieSecure,
		now:        time.Now,
	}
}

// CookieName returns the name of the session cookie
func (m *Manager) CookieName() string {
	return m.cookieName
}

// Create starts a session for userID and returns its signed token
func (m *Manager) Create(ctx context.Context, userID int64) (string, error) {
	sid := uuid.NewString()
	if err := m.store.Set(ctx, keyPrefix+sid, strconv.FormatInt(userID, 10), m.ttl); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	now := m.now()
	claims := Claims{
		SessionID: sid,
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, nil
}

// Resolve returns the user owning token. It fails with ErrNoSession when the
// token does not verify or its session was destroyed.
func (m *Manager) Resolve(ctx context.Context, token string) (int64, error) {
	claims, err := m.parse(token)
	if err != nil {
		return 0, err
	}

	val, err := m.store.Get(ctx, keyPrefix+claims.SessionID)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return 0, ErrNoSession
		}
		return 0, fmt.Errorf("failed to load session: %w", err)
	}

	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil || userID != claims.UserID {
		return 0, ErrNoSession
	}
	return userID, nil
}

// Destroy revokes the session named by token. Unknown or invalid tokens are
// treated as already destroyed.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}
	return m.store.Delete(ctx, keyPrefix+claims.SessionID)
}

func (m *Manager) parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, ErrNoSession
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return nil, ErrNoSession
	}
	return claims, nil
}

// TokenFromRequest reads the session token from the cookie, falling back to
// an "Authorization: Bearer" header for non-browser clients.
func (m *Manager) TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// SetCookie attaches token to the response
func (m *Manager) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie on the client
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
