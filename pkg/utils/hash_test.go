package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("crayons42")
	require.NoError(t, err)
	assert.True(t, CheckPassword("crayons42", hash))
	assert.False(t, CheckPassword("crayons43", hash))
	assert.False(t, CheckPassword("crayons42", ""))

	_, err = HashPassword(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
