package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	email, ok := NormalizeEmail("  Admin@Example.COM ")
	require.True(t, ok)
	require.Equal(t, "admin@example.com", email)

	_, ok = NormalizeEmail("not-an-email")
	require.False(t, ok)

	_, ok = NormalizeEmail("Bob <bob@example.com>")
	require.False(t, ok)
}

func TestSanitizeAndMask(t *testing.T) {
	require.Equal(t, "&lt;b&gt;hi&lt;/b&gt;", SanitizeInput(" <b>hi</b> "))
	require.True(t, ContainsSuspicious("<script>"))
	require.False(t, ContainsSuspicious("Jane"))
	require.Equal(t, "j***@example.com", MaskEmail("jane@example.com"))
	require.Equal(t, "***", MaskEmail("nope"))
}
