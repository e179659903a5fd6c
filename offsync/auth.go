// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenFunc supplies a bearer token for one remote request.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken returns a TokenFunc that always yields the given token.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) {
		return token, nil
	}
}

// TokenAuth mints and validates HS256 JWTs for the remote service.
type TokenAuth struct {
	secret []byte
}

// NewTokenAuth creates a token authority over a shared secret.
func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret)}
}

// TokenClaims carries the client identity alongside the registered claims.
type TokenClaims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

// GenerateToken signs a token for the given subject and client id.
func (t *TokenAuth) GenerateToken(subject, clientID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &TokenClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "toolsync",
			Subject:   subject,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ValidateToken parses and verifies a token, returning its claims.
func (t *TokenAuth) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// TokenSource returns a TokenFunc that mints a token on first use and
// refreshes it shortly before expiry.
func (t *TokenAuth) TokenSource(subject, clientID string, ttl time.Duration) TokenFunc {
	var mu sync.Mutex
	var token string
	var expiresAt time.Time

	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" && time.Until(expiresAt) > ttl/10 {
			return token, nil
		}
		minted, err := t.GenerateToken(subject, clientID, ttl)
		if err != nil {
			return "", fmt.Errorf("failed to mint token: %w", err)
		}
		token = minted
		expiresAt = time.Now().Add(ttl)
		return token, nil
	}
}
