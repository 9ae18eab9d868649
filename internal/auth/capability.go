package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenExpired marks an expired capability token. Clients recover by
// calling CreateSession again with the same client upload id; tokens are
// never refreshed in place.
var ErrTokenExpired = errors.New("capability token expired")

const DefaultCapabilityTTL = 2 * time.Hour

// CapabilityClaims scope a token to exactly one session's storage path.
type CapabilityClaims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
	jwt.RegisteredClaims
}

// CapabilityToken is the client-facing grant returned by CreateSession.
type CapabilityToken struct {
	Container string    `json:"container"`
	Path      string    `json:"path"`
	Token     string    `json:"token"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CapabilityService mints and verifies path-scoped write tokens, the
// SAS-token equivalent for the blob store.
type CapabilityService struct {
	secret    []byte
	container string
	baseURL   string
	ttl       time.Duration
}

func NewCapabilityService(secret, container, baseURL string, ttl time.Duration) *CapabilityService {
	if ttl <= 0 {
		ttl = DefaultCapabilityTTL
	}
	return &CapabilityService{
		secret:    []byte(secret),
		container: container,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		ttl:       ttl,
	}
}

// SessionPath is the storage prefix a session's files live under.
func SessionPath(userID, sessionID string) string {
	return fmt.Sprintf("users/%s/sessions/%s/", userID, sessionID)
}

func (s *CapabilityService) Mint(userID, sessionID string) (CapabilityToken, error) {
	now := time.Now()
	path := SessionPath(userID, sessionID)
	claims := CapabilityClaims{
		UserID:    userID,
		SessionID: sessionID,
		Path:      path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return CapabilityToken{}, err
	}
	return CapabilityToken{
		Container: s.container,
		Path:      path,
		Token:     signed,
		UploadURL: fmt.Sprintf("%s/blob/%s%s?token=%s", s.baseURL, s.container, path, signed),
		ExpiresAt: now.Add(s.ttl),
	}, nil
}

func (s *CapabilityService) Verify(token string) (*CapabilityClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &CapabilityClaims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, err
	}
	claims, ok := parsed.Claims.(*CapabilityClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("capability token invalid")
	}
	return claims, nil
}

// Allows reports whether the token may touch the given object path.
func (c *CapabilityClaims) Allows(objectPath string) bool {
	return strings.HasPrefix(objectPath, c.Path)
}
