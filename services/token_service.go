package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// TokenService verifies the two token kinds a connection may present:
// a user access token carrying user_id, and an AI-match token carrying the
// match (bracket node) id the AI is allowed to join. Both are HS256.
type TokenService interface {
	CheckUserToken(token string) (userID int, err error)
	CheckAIToken(token string) (nodeID int, err error)
	MakeAIToken(nodeID int, ttl time.Duration) (string, error)
}

type tokenService struct {
	secret []byte
}

func NewTokenService(secret string) TokenService {
	return &tokenService{secret: []byte(secret)}
}

func (s *tokenService) CheckUserToken(token string) (int, error) {
	claims, err := s.parse(token)
	if err != nil {
		return 0, err
	}
	userID, ok := intClaim(claims, "user_id")
	if !ok {
		return 0, fmt.Errorf("%w: missing user_id claim", ErrTokenInvalid)
	}
	return userID, nil
}

func (s *tokenService) CheckAIToken(token string) (int, error) {
	claims, err := s.parse(token)
	if err != nil {
		return 0, err
	}
	nodeID, ok := intClaim(claims, "match_id")
	if !ok {
		return 0, fmt.Errorf("%w: missing match_id claim", ErrTokenInvalid)
	}
	return nodeID, nil
}

func (s *tokenService) MakeAIToken(nodeID int, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"match_id": nodeID,
		"exp":      time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign AI match token: %w", err)
	}
	return signed, nil
}

func (s *tokenService) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func intClaim(claims jwt.MapClaims, key string) (int, bool) {
	raw, ok := claims[key]
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}
