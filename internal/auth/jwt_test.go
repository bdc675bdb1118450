package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() *User {
	return &User{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		Username: "alice",
		Email:    "alice@example.com",
		Role:     RoleUser,
	}
}

func TestGenerateTokenPairRoundTrips(t *testing.T) {
	mgr := NewJWTManager("secret", time.Minute, time.Hour)
	user := testUser()

	pair, refreshHash, err := mgr.GenerateTokenPair(user)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEmpty(t, refreshHash)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, 60, pair.ExpiresIn)

	ctx, err := mgr.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, ctx.UserID)
	assert.Equal(t, user.TenantID, ctx.TenantID)
	assert.Equal(t, user.Username, ctx.Username)
	assert.False(t, ctx.IsAPIKey)
	assert.Equal(t, "jwt", ctx.TokenType)
}

func TestValidateAccessTokenRejectsWrongSigningKey(t *testing.T) {
	mgr := NewJWTManager("secret", time.Minute, time.Hour)
	other := NewJWTManager("different-secret", time.Minute, time.Hour)
	user := testUser()

	pair, _, err := mgr.GenerateTokenPair(user)
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateAccessTokenRejectsExpiredToken(t *testing.T) {
	mgr := NewJWTManager("secret", -time.Minute, time.Hour)
	user := testUser()

	pair, _, err := mgr.GenerateTokenPair(user)
	require.NoError(t, err)

	_, err = mgr.ValidateAccessToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateAccessTokenRejectsGarbage(t *testing.T) {
	mgr := NewJWTManager("secret", time.Minute, time.Hour)
	_, err := mgr.ValidateAccessToken("not.a.jwt")
	assert.Error(t, err)
}

func TestGetScopesForRoleEscalatesWithRole(t *testing.T) {
	mgr := NewJWTManager("secret", time.Minute, time.Hour)

	userScopes := mgr.getScopesForRole(RoleUser)
	adminScopes := mgr.getScopesForRole(RoleAdmin)
	ownerScopes := mgr.getScopesForRole(RoleOwner)

	assert.NotContains(t, userScopes, ScopeAPIKeysManage)
	assert.Contains(t, adminScopes, ScopeAPIKeysManage)
	assert.NotContains(t, adminScopes, ScopeTenantManage)
	assert.Contains(t, ownerScopes, ScopeTenantManage)
}

func TestRefreshAccessTokenIssuesNewToken(t *testing.T) {
	mgr := NewJWTManager("secret", time.Minute, time.Hour)
	user := testUser()

	first, err := mgr.generateAccessToken(user)
	require.NoError(t, err)
	second, err := mgr.RefreshAccessToken(user)
	require.NoError(t, err)

	assert.NotEmpty(t, first)
	assert.NotEmpty(t, second)
	ctx, err := mgr.ValidateAccessToken(second)
	require.NoError(t, err)
	assert.Equal(t, user.ID, ctx.UserID)
}

func TestExtractBearerTokenRequiresPrefix(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tok)

	_, err = ExtractBearerToken("Basic abc123")
	assert.Error(t, err)

	_, err = ExtractBearerToken("short")
	assert.Error(t, err)
}

func TestCompareTokenHashIsConstantTimeEquality(t *testing.T) {
	h := hashToken("same-token")
	assert.True(t, compareTokenHash(h, hashToken("same-token")))
	assert.False(t, compareTokenHash(h, hashToken("different-token")))
}

func TestGenerateRefreshTokenProducesMatchingHash(t *testing.T) {
	token, hash, err := generateRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, hashToken(token), hash)
}
