// Package auth validates the social API's access tokens so the gateway knows
// which viewer a browser request belongs to.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessCookieName is the cookie the social API stores its access token in.
const AccessCookieName = "accessToken"

// Values of the typ claim. Tokens without one are treated as access tokens.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	// AccessTokenExpiry is the lifetime of tokens minted by GenerateAccessToken.
	AccessTokenExpiry = 15 * time.Minute
	// DefaultLeeway absorbs clock skew between the gateway and the social API.
	DefaultLeeway = 30 * time.Second
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptyUserID  = errors.New("userID cannot be empty")
)

// Claims mirrors the social API's token payload. Subject is the numeric user
// id as a string.
type Claims struct {
	jwt.RegisteredClaims
	Nickname string `json:"nickname,omitempty"`
	Type     string `json:"typ,omitempty"`
}

// JWTService checks HS256 tokens shared with the social API. During a secret
// rotation it accepts tokens signed with either the current or the previous
// secret, and signs only with the current one.
type JWTService struct {
	keys    [][]byte // current first
	leeway  time.Duration
	timeNow func() time.Time
}

func NewJWTService(secret string) *JWTService {
	return NewJWTServiceWithRotation(secret, "")
}

// NewJWTServiceWithRotation also accepts previousSecret; pass "" when no
// rotation is running.
func NewJWTServiceWithRotation(currentSecret, previousSecret string) *JWTService {
	keys := [][]byte{[]byte(currentSecret)}
	if previousSecret != "" {
		keys = append(keys, []byte(previousSecret))
	}
	return &JWTService{keys: keys, leeway: DefaultLeeway, timeNow: time.Now}
}

// WithLeeway changes the clock skew allowance and returns s.
func (s *JWTService) WithLeeway(leeway time.Duration) *JWTService {
	s.leeway = leeway
	return s
}

// GenerateAccessToken mints an access token for userID. Browsers always get
// their tokens from the social API; this serves local development and tests.
func (s *JWTService) GenerateAccessToken(userID, nickname string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	issued := s.timeNow()
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(AccessTokenExpiry)),
		},
		Nickname: nickname,
		Type:     TokenTypeAccess,
	}).SignedString(s.keys[0])
}

// ValidateToken returns the claims of a well-signed, unexpired token. It
// fails with ErrExpiredToken when any accepted secret verifies an expired
// token and with ErrInvalidToken otherwise.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.timeNow),
	)

	expired := false
	for _, key := range s.keys {
		claims := &Claims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err == nil && token.Valid {
			return claims, nil
		}
		expired = expired || errors.Is(err, jwt.ErrTokenExpired)
	}
	if expired {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

// ValidateAccessToken returns the viewer's user id. Refresh tokens and tokens
// without a subject are invalid here.
func (s *JWTService) ValidateAccessToken(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Type == TokenTypeRefresh || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
