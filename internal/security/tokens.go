package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWeakSecret is returned when the HMAC signing secret is too short.
	ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")
)

// Claims holds the JWT claims for the access token. The jti claim carries the
// session token so a presented credential can be re-checked against the store.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Identity is the set of identifiers recovered from an access token.
type Identity struct {
	AccountID    string
	SessionToken string
	Username     string
	Role         string
}

// TokenProvider issues and validates HS256 access tokens with fixed
// issuer, audience, and lifetime.
type TokenProvider struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
}

// NewTokenProvider returns a TokenProvider signing with the given HMAC secret.
// issuer and audience are set on claims and validated on every decode.
func NewTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) (*TokenProvider, error) {
	if len(secret) < 32 {
		return nil, ErrWeakSecret
	}
	return &TokenProvider{
		secret:    secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
	}, nil
}

// Issue signs an access token binding the account to the given session token.
// Returns the token string and its expiration time.
func (p *TokenProvider) Issue(accountID, username, role, sessionToken string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(p.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionToken,
			Subject:   accountID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
		Role:     role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Validate parses and validates the access token (signature, exp, iss, aud).
func (p *TokenProvider) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, p.keyFunc)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return p.identityFromClaims(claims)
}

// DecodeExpired parses the token skipping expiry validation while still
// requiring a valid signature, issuer, and audience. Exposed solely for the
// refresh-rotation flow to recover the embedded session token; must never be
// used to authorize anything else.
func (p *TokenProvider) DecodeExpired(tokenString string) (*Identity, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, p.keyFunc)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return p.identityFromClaims(claims)
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return p.secret, nil
}

func (p *TokenProvider) identityFromClaims(claims *Claims) (*Identity, error) {
	if claims.Issuer != p.issuer {
		return nil, ErrInvalidToken
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{
		AccountID:    claims.Subject,
		SessionToken: claims.ID,
		Username:     claims.Username,
		Role:         claims.Role,
	}, nil
}

// NewRefreshSecret returns an opaque 256-bit random value. It is handed to the
// client once per session creation or rotation and never persisted server-side;
// rotation trust is anchored to the session record's sliding freshness instead.
func NewRefreshSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
