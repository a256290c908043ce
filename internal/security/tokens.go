package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"authcore/internal/apperr"
)

// ErrInvalidToken is returned when a token is malformed, expired, or fails signature,
// issuer, audience, or token-use checks.
var ErrInvalidToken = apperr.New(apperr.KindUnauthorized, "invalid_token", "invalid or expired token")

const (
	tokenUseAccess  = "access"
	tokenUseRefresh = "refresh"
)

// Claims is the JWT payload shared by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Email    string `json:"email"`
	TokenUse string `json:"token_use"`
}

// Subject is the identity a credential pair is bound to.
type Subject struct {
	ID       string
	Username string
	Email    string
}

// Pair is a freshly minted access/refresh credential pair.
type Pair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshIssuedAt  time.Time
	RefreshExpiresAt time.Time
}

// TokenProvider issues and validates JWT access and refresh tokens. Access and refresh
// tokens are signed with independent key sets so a leaked key of one kind cannot forge the other.
type TokenProvider struct {
	access     KeyPair
	refresh    KeyPair
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider. It fails when either key set is unusable or when
// both sets share the same public key.
func NewTokenProvider(access, refresh KeyPair, issuer, audience string, accessTTL, refreshTTL time.Duration) (*TokenProvider, error) {
	if access.Signer == nil || refresh.Signer == nil || KeyAlg(access.Public) == "" || KeyAlg(refresh.Public) == "" {
		return nil, ErrInvalidKey
	}
	if publicKeysEqual(access.Public, refresh.Public) {
		return nil, ErrSharedKeyMaterial
	}
	if issuer == "" {
		return nil, errors.New("token issuer must be set")
	}
	return &TokenProvider{
		access:     access,
		refresh:    refresh,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock replaces the provider's clock. Intended for tests.
func (p *TokenProvider) SetClock(now func() time.Time) { p.now = now }

// AccessTTL returns the access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssuePair mints a new access and refresh token for sub from a single clock reading, so both
// share one issue instant. It has no side effects.
func (p *TokenProvider) IssuePair(sub Subject) (*Pair, error) {
	now := p.now()
	access, accessExp, err := p.issueAccessAt(sub, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := p.issueRefreshAt(sub, now)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshIssuedAt:  now,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// IssueAccess issues a short-lived access JWT for sub and returns it with its expiry.
func (p *TokenProvider) IssueAccess(sub Subject) (token string, expiresAt time.Time, err error) {
	return p.issueAccessAt(sub, p.now())
}

// IssueRefresh issues a long-lived refresh JWT for sub. Every refresh token carries a random
// jti so two tokens minted for the same subject in the same second still differ.
func (p *TokenProvider) IssueRefresh(sub Subject) (token string, issuedAt, expiresAt time.Time, err error) {
	issuedAt = p.now()
	token, expiresAt, err = p.issueRefreshAt(sub, issuedAt)
	return token, issuedAt, expiresAt, err
}

func (p *TokenProvider) issueAccessAt(sub Subject, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(p.accessTTL)
	token, err := p.sign(p.access, sub, tokenUseAccess, now, expiresAt)
	return token, expiresAt, err
}

func (p *TokenProvider) issueRefreshAt(sub Subject, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(p.refreshTTL)
	token, err := p.sign(p.refresh, sub, tokenUseRefresh, now, expiresAt)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(kp KeyPair, sub Subject, use string, now, expiresAt time.Time) (string, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", err
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.ID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: sub.Username,
		Email:    sub.Email,
		TokenUse: use,
	}
	if p.audience != "" {
		claims.Audience = jwt.ClaimStrings{p.audience}
	}
	var method jwt.SigningMethod
	switch KeyAlg(kp.Public) {
	case "RS256":
		method = jwt.SigningMethodRS256
	case "ES256":
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidKey
	}
	return jwt.NewWithClaims(method, claims).SignedString(kp.Signer)
}

// ValidateAccess verifies an access token's signature, expiry, issuer, and audience.
func (p *TokenProvider) ValidateAccess(token string) (*Claims, error) {
	return p.parse(token, p.access, tokenUseAccess)
}

// ValidateRefresh verifies a refresh token's signature, expiry, issuer, and audience.
func (p *TokenProvider) ValidateRefresh(token string) (*Claims, error) {
	return p.parse(token, p.refresh, tokenUseRefresh)
}

func (p *TokenProvider) parse(tokenString string, kp KeyPair, use string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{KeyAlg(kp.Public)}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return kp.Public, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenUse != use || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
