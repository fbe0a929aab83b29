package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
)

func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GRANTMATCH_OPENAI_API_KEY", "sk-test")
	t.Setenv("GRANTMATCH_DATABASE_DSN", "postgres://localhost/grants?sslmode=disable")
	t.Setenv("GRANTMATCH_QDRANT_INDEX_NAME", "grants")
}

func TestLoadFromEnv(t *testing.T) {
	validEnv(t)
	t.Setenv("GRANTMATCH_SERVER_PORT", "9100")
	t.Setenv("GRANTMATCH_OPENAI_CHAT_MODEL", "gpt-4o")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.ChatModel)

	// Defaults fill everything not set.
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, 1536, cfg.Qdrant.Dimension)
	assert.Equal(t, 20, cfg.Matching.TopK)
	assert.Equal(t, 5, cfg.Matching.AnalysisConcurrency)
	assert.Equal(t, time.Duration(0), cfg.Matching.CacheMaxAge)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	validEnv(t)
	t.Setenv("GRANTMATCH_SERVER_PORT", "9200")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
qdrant:
  index_name: grants
  dimension: 3072
logging:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file.
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 3072, cfg.Qdrant.Dimension)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	validEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateFailsFast(t *testing.T) {
	tests := []struct {
		name  string
		unset string
		want  string
	}{
		{"missing api key", "GRANTMATCH_OPENAI_API_KEY", "openai.api_key"},
		{"missing dsn", "GRANTMATCH_DATABASE_DSN", "database.dsn"},
		{"missing index name", "GRANTMATCH_QDRANT_INDEX_NAME", "qdrant.index_name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validEnv(t)
			t.Setenv(tt.unset, "")

			_, err := Load("")
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateRanges(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.OpenAI.APIKey = "k"
	cfg.Database.DSN = "dsn"
	cfg.Qdrant.IndexName = "grants"

	cfg.Qdrant.Dimension = -1
	assert.ErrorIs(t, cfg.Validate(), errs.ErrValidation)

	cfg.Qdrant.Dimension = 1536
	cfg.Qdrant.Port = 70000
	assert.ErrorIs(t, cfg.Validate(), errs.ErrValidation)

	cfg.Qdrant.Port = 6334
	assert.NoError(t, cfg.Validate())
}
