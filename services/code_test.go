package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode_UsesUnambiguousAlphabet(t *testing.T) {
	for i := 0; i < 500; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.Len(t, code, CodeLength)
		assert.True(t, ValidCode(code), code)
		assert.False(t, strings.ContainsAny(code, "01IO"), code)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "K7M3PQ", NormalizeCode("  k7m3pq "))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestValidCode(t *testing.T) {
	cases := map[string]bool{
		"K7M3PQ":  true,
		"ABCDEF":  true,
		"K7M3P":   false,
		"K7M3PQR": false,
		"K7M3P0":  false,
		"K7M3PI":  false,
		"k7m3pq":  false,
		"":        false,
	}
	for code, want := range cases {
		assert.Equal(t, want, ValidCode(code), code)
	}
}
