package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type tourlineClaims struct {
	jwt.RegisteredClaims
	UserID    string `json:"uid"`
	Role      Role   `json:"role"`
	TokenType string `json:"type"`
}

// TokenService issues and verifies signed bearer tokens. Verification is
// pure: it performs no I/O.
type TokenService struct {
	signingKey    []byte
	issuer        string
	expiry        time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

func NewTokenService(signingKey, issuer string, expiryHours, refreshExpiryHours int) *TokenService {
	return &TokenService{
		signingKey:    []byte(signingKey),
		issuer:        issuer,
		expiry:        time.Duration(expiryHours) * time.Hour,
		refreshExpiry: time.Duration(refreshExpiryHours) * time.Hour,
		now:           time.Now,
	}
}

func (s *TokenService) CreateAccessToken(identity *Identity) (string, error) {
	return s.createToken(identity, TokenTypeAccess, s.expiry)
}

func (s *TokenService) CreateRefreshToken(identity *Identity) (string, error) {
	return s.createToken(identity, TokenTypeRefresh, s.refreshExpiry)
}

func (s *TokenService) createToken(identity *Identity, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()

	claims := tourlineClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    identity.UserID,
		Role:      identity.Role,
		TokenType: tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies signature, issuer and expiry and returns the
// identity carried by the token. OrganizationIDs is left empty; memberships
// are never trusted from the token.
func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &tourlineClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*tourlineClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid claim", ErrTokenMalformed)
	}

	identity := &Identity{
		UserID:          claims.UserID,
		Role:            claims.Role,
		OrganizationIDs: []string{},
		TokenType:       claims.TokenType,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// ValidateAccessToken is ValidateToken restricted to access tokens.
func (s *TokenService) ValidateAccessToken(tokenString string) (*Identity, error) {
	return s.validateType(tokenString, TokenTypeAccess)
}

// ValidateRefreshToken is ValidateToken restricted to refresh tokens.
func (s *TokenService) ValidateRefreshToken(tokenString string) (*Identity, error) {
	return s.validateType(tokenString, TokenTypeRefresh)
}

func (s *TokenService) validateType(tokenString, want string) (*Identity, error) {
	identity, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if identity.TokenType != want {
		return nil, fmt.Errorf("%w: %s token required", ErrWrongTokenType, want)
	}
	return identity, nil
}
