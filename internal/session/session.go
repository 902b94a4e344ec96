package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gratialabs/gratia/internal/entity"
)

var (
	ErrMissingSigningKey = errors.New("session: signing key required")
	ErrMissingIssuer     = errors.New("session: issuer required")
	ErrMissingToken      = errors.New("session: token required")
	ErrInvalidToken      = errors.New("session: invalid token")
	ErrExpiredToken      = errors.New("session: token expired")
	ErrMissingSubject    = errors.New("session: subject required")
	ErrNoActiveSession   = errors.New("session: no active session")
)

// Claims mirrors the JWT payload issued by the Gratia auth service.
type Claims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	UserAvatarURL   string `json:"user_avatar_url"`
	jwt.RegisteredClaims
}

// ManagerConfig describes how session tokens are validated.
type ManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// Manager validates HS256 session JWTs and holds the single active session:
// its bearer token, forwarded to the upstream API, and the identity seed
// derived from the token claims. At most one session is active per process.
type Manager struct {
	signingSecret []byte
	issuer        string
	clock         func() time.Time

	mu       sync.RWMutex
	token    string
	identity entity.Identity
	active   bool
	teardown []func()
}

// NewManager constructs a manager with the provided configuration.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		clock:         clock,
	}, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (m *Manager) ValidateToken(tokenString string) (Claims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Claims{}, ErrMissingToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithTimeFunc(m.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Issuer != m.issuer {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.UserID) == "" {
		return Claims{}, ErrMissingSubject
	}
	return *claims, nil
}

// Activate validates the token and installs it as the active session,
// seeding the current identity from the token claims.
func (m *Manager) Activate(tokenString string) (Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return Claims{}, err
	}

	m.mu.Lock()
	m.token = strings.TrimSpace(tokenString)
	m.identity = entity.Identity{
		UserProfile: entity.UserProfile{
			ID:          claims.UserID,
			DisplayName: claims.UserDisplayName,
			AvatarURL:   claims.UserAvatarURL,
		},
		Email: claims.UserEmail,
	}
	m.active = true
	m.mu.Unlock()
	return claims, nil
}

// Token returns the active bearer token, or empty when no session is active.
// Implements the API client's token source.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// Identity returns the identity seed derived from the active session token.
func (m *Manager) Identity() (entity.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.active {
		return entity.Identity{}, ErrNoActiveSession
	}
	return m.identity, nil
}

// OnTeardown registers a hook invoked when the session is cleared. Hooks
// empty session-scoped state such as the engine cache and reaction rows.
func (m *Manager) OnTeardown(hook func()) {
	if hook == nil {
		return
	}
	m.mu.Lock()
	m.teardown = append(m.teardown, hook)
	m.mu.Unlock()
}

// Clear drops the active session and runs every registered teardown hook.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = ""
	m.identity = entity.Identity{}
	m.active = false
	hooks := append([]func(){}, m.teardown...)
	m.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
}
