package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("wonderland")
	require.NoError(t, err)
	assert.NotEqual(t, "wonderland", hash)

	assert.NoError(t, VerifyPassword(hash, "wonderland"))
	assert.ErrorIs(t, VerifyPassword(hash, "Wonderland"), ErrInvalidCredentials)
	assert.ErrorIs(t, VerifyPassword("", "wonderland"), ErrInvalidCredentials)
}

func TestHashPasswordRejectsUnusableInput(t *testing.T) {
	_, err := HashPassword("")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = HashPassword(strings.Repeat("p", 73))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
