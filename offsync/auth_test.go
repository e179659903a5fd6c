// Copyright 2025 Whitebox LLMs
// SPDX-License-Identifier: Apache-2.0

package offsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	auth := NewTokenAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "client-123", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "client-123", claims.ClientID)
	require.Equal(t, "toolsync", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenAuth("secret-a").GenerateToken("user-1", "client-123", time.Hour)
	require.NoError(t, err)

	_, err = NewTokenAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	auth := NewTokenAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "client-123", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestTokenSourceCachesUntilRefresh(t *testing.T) {
	auth := NewTokenAuth("test-secret")
	source := auth.TokenSource("user-1", "client-123", time.Hour)
	ctx := context.Background()

	first, err := source(ctx)
	require.NoError(t, err)
	second, err := source(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	claims, err := auth.ValidateToken(first)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
}
