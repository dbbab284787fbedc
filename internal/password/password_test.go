package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	stored, err := Hash("correct horse battery staple")
	require.NoError(t, err)

	assert.True(t, Verify(stored, "correct horse battery staple"))
	assert.False(t, Verify(stored, "correct horse battery stapler"))
	assert.False(t, Verify(stored, ""))
}

func TestHashIsSalted(t *testing.T) {
	t.Parallel()

	first, err := Hash("hunter2")
	require.NoError(t, err)
	second, err := Hash("hunter2")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, Verify(first, "hunter2"))
	assert.True(t, Verify(second, "hunter2"))
}

func TestVerifyMalformedStored(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"no-separator",
		":",
		"abcd:",
		":abcd",
		"not-hex:abcd",
		"abcd:not-hex",
	}
	for _, stored := range cases {
		assert.False(t, Verify(stored, "anything"), "stored=%q", stored)
	}
}
