package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)

	ok, err := VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	_, err := VerifyPassword("anything", []byte("not-a-hash"))
	assert.Error(t, err)

	_, err = VerifyPassword("anything", []byte("$argon2i$v=19$t=3,m=65536,p=2$salt$hash"))
	assert.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	token, err := GenerateAccessToken("secret", "user-1", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := ParseAccessToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "user-1", claims.Subject)

	_, err = ParseAccessToken(token, "other-secret")
	assert.Error(t, err)
}

func TestAccessTokenExpiry(t *testing.T) {
	token, err := GenerateAccessToken("secret", "user-1", "user", -time.Minute)
	require.NoError(t, err)

	_, err = ParseAccessToken(token, "secret")
	assert.Error(t, err)
}

func TestSignResourceIsDeterministic(t *testing.T) {
	a := SignResource("secret", "id", "key")
	b := SignResource("secret", "id", "key")
	assert.Equal(t, a, b)

	c := SignResource("secret", "id", "other-key")
	assert.NotEqual(t, a, c)

	assert.True(t, VerifyResource("secret", a, "id", "key"))
	assert.False(t, VerifyResource("secret", a, "id", "other-key"))
	assert.False(t, VerifyResource("other-secret", a, "id", "key"))
}
