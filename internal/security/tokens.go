package security

import (
	"crypto"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// Token kinds carried in the "typ" claim so an access token can never be replayed as a refresh token.
const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// SessionClaims are the JWT claims of both session tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	Kind      string `json:"typ"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id,omitempty"`
	Method    string `json:"amr,omitempty"`
}

// IssuedToken is a signed token with its id and expiry.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// TokenProvider issues and validates session JWTs using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	nowF       func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey (RS256 or ES256).
// issuer and audience are set on claims and enforced on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		nowF:       func() time.Time { return time.Now().UTC() },
	}
}

// IssueAccess issues a short-lived access JWT for the session. method records how the owner
// authenticated ("pwd" or "bio").
func (p *TokenProvider) IssueAccess(sessionID, ownerID, deviceID, method string) (IssuedToken, error) {
	return p.issue(kindAccess, p.accessTTL, sessionID, ownerID, deviceID, method)
}

// IssueRefresh issues a long-lived refresh JWT. Callers store a hash of the token on the session.
func (p *TokenProvider) IssueRefresh(sessionID, ownerID, deviceID, method string) (IssuedToken, error) {
	return p.issue(kindRefresh, p.refreshTTL, sessionID, ownerID, deviceID, method)
}

func (p *TokenProvider) issue(kind string, ttl time.Duration, sessionID, ownerID, deviceID, method string) (IssuedToken, error) {
	jti := uuid.NewString()
	now := p.nowF()
	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   ownerID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Kind:      kind,
		SessionID: sessionID,
		DeviceID:  deviceID,
		Method:    method,
	}
	token, err := p.sign(claims)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, JTI: jti, ExpiresAt: expiresAt}, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	method := jwt.GetSigningMethod(KeyAlg(p.privateKey.Public()))
	if method == nil {
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateAccess parses and validates an access token (signature, exp, iss, aud, kind).
func (p *TokenProvider) ValidateAccess(tokenString string) (*SessionClaims, error) {
	return p.validate(tokenString, kindAccess)
}

// ValidateRefresh parses and validates a refresh token (signature, exp, iss, aud, kind).
func (p *TokenProvider) ValidateRefresh(tokenString string) (*SessionClaims, error) {
	return p.validate(tokenString, kindRefresh)
}

func (p *TokenProvider) validate(tokenString, kind string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(*jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	},
		jwt.WithValidMethods([]string{KeyAlg(p.publicKey)}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.nowF),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
