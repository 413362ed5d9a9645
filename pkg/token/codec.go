package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformed indicates a token that is structurally invalid, carries a
// bad signature, or was issued by someone else. Callers must treat it as
// unauthenticated without further detail.
var ErrMalformed = errors.New("token: malformed or unverifiable")

// ErrExpired indicates a well-formed token whose lifetime has passed.
var ErrExpired = errors.New("token: expired")

// Claims are the verified contents of a session token.
type Claims struct {
	Identity  string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Remaining returns the token lifetime left at the given instant.
func (c *Claims) Remaining(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Config holds codec configuration
type Config struct {
	Secret string        // HMAC signing secret, at least 32 bytes
	Issuer string        // issuer claim pinned on issue and parse
	Leeway time.Duration // clock skew tolerance on parse
}

// Codec issues and verifies the bearer credentials binding an identity to
// a session. Tokens are HMAC-SHA256 JWTs over {sub, sid, iat, exp}; a
// token is pure function output and is never stored server-side.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// New creates a new codec
func New(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes, got %d", len(cfg.Secret))
	}

	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "forgechat"
	}

	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 60 * time.Second
	}

	return &Codec{
		secret: []byte(cfg.Secret),
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}, nil
}

// Issue signs a token binding identity and sessionID for ttl.
func (c *Codec) Issue(identity, sessionID string, ttl time.Duration) (string, error) {
	if identity == "" {
		return "", fmt.Errorf("identity cannot be empty")
	}
	if sessionID == "" {
		return "", fmt.Errorf("session id cannot be empty")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive")
	}

	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.issuer,
		"sub": identity,
		"sid": sessionID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Parse verifies a token and returns its claims. Expired tokens yield
// ErrExpired; everything else that fails verification yields ErrMalformed
// so callers cannot distinguish forgery from corruption.
func (c *Codec) Parse(raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)

	parsed, err := parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformed
	}

	identity, _ := mapClaims["sub"].(string)
	sessionID, _ := mapClaims["sid"].(string)
	if identity == "" || sessionID == "" {
		return nil, ErrMalformed
	}

	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrMalformed
	}
	iat, err := mapClaims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, ErrMalformed
	}

	return &Claims{
		Identity:  identity,
		SessionID: sessionID,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}, nil
}
