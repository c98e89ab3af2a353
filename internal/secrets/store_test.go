package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Set("Gemini", "  abc123 "))
	got, err := s.Get("gemini")
	require.NoError(t, err)
	require.Equal(t, "abc123", got)

	raw, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.False(t, strings.Contains(string(raw), "abc123"))

	info, err := os.Stat(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	providers, err := s.Providers()
	require.NoError(t, err)
	require.Equal(t, []string{"gemini"}, providers)

	require.NoError(t, s.Delete("gemini"))
	_, err = s.Get("gemini")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.Delete("gemini"), ErrNotFound)
}

func TestStoreRejectsEmpty(t *testing.T) {
	t.Parallel()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.Error(t, s.Set("", "x"))
	require.Error(t, s.Set("openai", " "))
}

func TestResolverPrecedence(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Set("openai", "from-store"))

	r := Resolver{
		Store:   s,
		EnvVars: map[string]string{"openai": "SALDO_TEST_OPENAI_KEY"},
		Config:  map[string]string{"openai": "from-config", "gemini": "cfg-gemini"},
	}
	t.Setenv("SALDO_TEST_OPENAI_KEY", "")
	require.Equal(t, "from-store", r.Key("openai"))

	t.Setenv("SALDO_TEST_OPENAI_KEY", "from-env")
	require.Equal(t, "from-env", r.Key("OpenAI"))

	require.Equal(t, "cfg-gemini", r.Key("gemini"))
	require.Equal(t, "", r.Key("local"))
}
