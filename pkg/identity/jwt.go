package identity

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload.
type Claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTLookup authenticates HS256 bearer tokens.
type JWTLookup struct {
	secret []byte
	issuer string
}

// NewJWTLookup creates a lookup verifying tokens signed with secret.
// A non-empty issuer is enforced on every token.
func NewJWTLookup(secret, issuer string) (*JWTLookup, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: jwt secret is required", ErrNotConfigured)
	}
	return &JWTLookup{secret: []byte(secret), issuer: issuer}, nil
}

// Identify implements Lookup
func (l *JWTLookup) Identify(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return Identity{}, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if l.issuer != "" {
		opts = append(opts, jwt.WithIssuer(l.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return l.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	accountID := claims.AccountID
	if accountID == "" {
		accountID = claims.Subject
	}
	if accountID == "" {
		return Identity{}, fmt.Errorf("%w: token has no account id", ErrUnauthenticated)
	}
	return Identity{AccountID: accountID, Role: claims.Role, Email: claims.Email}, nil
}

// Sign issues a token for id valid for ttl.
func (l *JWTLookup) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID: id.AccountID,
		Role:      id.Role,
		Email:     id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			Issuer:    l.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.secret)
}
