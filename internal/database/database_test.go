package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveURLPrefersExplicit(t *testing.T) {
	t.Setenv(EnvKey, "postgres://env")
	got, err := ResolveURL("  postgres://explicit  ")
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit", got)
}

func TestResolveURLFromEnvironment(t *testing.T) {
	t.Setenv(EnvKey, "postgres://env")
	got, err := ResolveURL("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", got)
}

func TestReadEnvValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"quoted", "# local\nOTHER=1\nDATABASE_URL=\"postgres://a\"\n", "postgres://a", false},
		{"exported", "export DATABASE_URL=postgres://b\n", "postgres://b", false},
		{"empty", "DATABASE_URL=''\n", "", true},
		{"missing", "REDIS_URL=redis://x\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))
			got, err := readEnvValue(path, EnvKey)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindEnvFileWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("DATABASE_URL=x\n"), 0600))

	got, err := findEnvFile(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".env"), got)
}

func TestSchemaCreatesServiceTables(t *testing.T) {
	for _, table := range []string{"organizations", "integrations", "actors", "conversations", "messages", "conversation_links", "settings", "linked_identities", "notifications"} {
		assert.True(t, strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
}
