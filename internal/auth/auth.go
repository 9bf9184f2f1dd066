// Package auth issues and verifies the access and refresh tokens that
// authenticate socket handshakes and HTTP calls.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/AlexMickh/market-chat/pkg/apperr"
	"github.com/AlexMickh/market-chat/pkg/events"
	"github.com/golang-jwt/jwt/v5"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
	issuer      = "market-chat"
)

var (
	ErrMissingToken = apperr.Unauthorized("token is required")
	ErrTokenExpired = apperr.Unauthorized("jwt expired")
	ErrInvalidToken = apperr.Unauthorized("token is invalid")
)

type Claims struct {
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func New(secret string, accessTTL, refreshTTL time.Duration, opts ...Option) *Manager {
	m := &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue signs a fresh access/refresh pair for userID.
func (m *Manager) Issue(userID string) (Pair, error) {
	const op = "auth.Issue"

	access, err := m.sign(userID, kindAccess, m.accessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}
	refresh, err := m.sign(userID, kindRefresh, m.refreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}

	return Pair{Access: access, Refresh: refresh}, nil
}

// Verify checks an access token and returns the user id it was issued for.
func (m *Manager) Verify(token string) (string, error) {
	const op = "auth.Verify"

	claims, err := m.parse(token, kindAccess)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return claims.Subject, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (m *Manager) Refresh(refresh string) (Pair, error) {
	const op = "auth.Refresh"

	claims, err := m.parse(refresh, kindRefresh)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := m.Issue(claims.Subject)
	if err != nil {
		return Pair{}, fmt.Errorf("%s: %w", op, err)
	}

	return pair, nil
}

// Reason maps a verification error to the handshake rejection reason.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return events.ReasonUnauthorized
	case errors.Is(err, ErrTokenExpired):
		return events.ReasonExpired
	default:
		return events.ReasonInvalid
	}
}

func (m *Manager) sign(userID, kind string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) parse(raw, kind string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, apperr.Wrap(apperr.KindUnauthorized, ErrInvalidToken.Message, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Kind != kind || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// FromRequest reads the access token from the Authorization header or the
// token query parameter.
func FromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
