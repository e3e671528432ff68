package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ppe-sentinel/internal/auth"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse-battery-staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"), "unexpected encoding: %s", hash)

	ok, err := auth.VerifyPassword("correct-horse-battery-staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.VerifyPassword("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashPassword_SaltsDiffer(t *testing.T) {
	first, err := auth.HashPassword("same-input")
	require.NoError(t, err)
	second, err := auth.HashPassword("same-input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "two hashes of the same password must not share a salt")
}

func TestVerifyPassword_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"plaintext":        "hunter2",
		"too few parts":    "$argon2id$v=19$m=65536,t=1,p=4$saltonly",
		"wrong variant":    "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$a2V5",
		"wrong version":    "$argon2id$v=7$m=65536,t=1,p=4$c2FsdA$a2V5",
		"non-numeric cost": "$argon2id$v=19$m=lots,t=1,p=4$c2FsdA$a2V5",
		"bad base64 salt":  "$argon2id$v=19$m=65536,t=1,p=4$!!!$a2V5",
	}

	for name, encoded := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := auth.VerifyPassword("anything", encoded)
			assert.Error(t, err)
		})
	}
}
