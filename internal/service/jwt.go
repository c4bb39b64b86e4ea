package service

import (
	"errors"
	"time"

	"github.com/emcifuntik/twitch-overlay-widgets/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

var log = logger.New("SERVICE")

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	tokenIssuer = "twitch-overlay-widgets"
	tokenTTL    = 24 * time.Hour
	// Expired tokens can be refreshed for this long after expiry.
	refreshGrace = 7 * 24 * time.Hour

	devSecret = "your-256-bit-secret-key-change-in-production"
)

// Claims represents JWT claims. The subject is the Twitch user id and is the
// actor id of every dashboard request.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	if secret == "" {
		// Default secret for development - change this in production!
		log.Warn("JWT_SECRET is not set, using the development secret")
		secret = devSecret
	}
	return &TokenService{secret: []byte(secret), now: time.Now}
}

// Generate issues a session token for a user.
func (s *TokenService) Generate(userID, username string) (string, error) {
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *TokenService) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	claims := &Claims{}
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Validate validates a JWT token and returns the claims
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	return s.parse(tokenString)
}

// Refresh issues a new token for a valid token or one that expired less than
// the grace period ago.
func (s *TokenService) Refresh(tokenString string) (string, error) {
	claims, err := s.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", err
	}
	if claims.ExpiresAt == nil || s.now().After(claims.ExpiresAt.Add(refreshGrace)) {
		return "", ErrExpiredToken
	}
	return s.Generate(claims.UserID, claims.Username)
}
