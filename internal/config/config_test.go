package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlexMickh/market-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{"ENV", "STORAGE_DRIVER", "JWT_SECRET", "SEED_USERS", "DB_PASSWORD", "DB_PORT"}

// writeEnv writes content as an env file. cleanenv exports the file's
// variables into the process, so they are cleared around every case.
func writeEnv(t *testing.T, content string) string {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name:    "memory defaults",
			content: "STORAGE_DRIVER=memory\nJWT_SECRET=s\nSEED_USERS=alice:Alice,bob\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "prod", cfg.Env)
				assert.Equal(t, ":8080", cfg.HTTP.Addr)
				assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
				assert.Equal(t, 60*time.Second, cfg.WS.PongWait)
				assert.False(t, cfg.Redis.Enabled)
				assert.Equal(t, 10, cfg.Redis.PoolSize)
				assert.Equal(t, []models.Profile{
					{ID: "alice", Name: "Alice"},
					{ID: "bob", Name: "bob"},
				}, cfg.Profiles())
			},
		},
		{
			name:    "postgres",
			content: "STORAGE_DRIVER=postgres\nJWT_SECRET=s\nDB_PASSWORD=root\nDB_PORT=5432\n",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5432, cfg.DB.Port)
				assert.Equal(t, "root", cfg.DB.Password)
			},
		},
		{
			name:    "postgres without password",
			content: "STORAGE_DRIVER=postgres\nJWT_SECRET=s\n",
			wantErr: true,
		},
		{
			name:    "unknown driver",
			content: "STORAGE_DRIVER=mongo\nJWT_SECRET=s\n",
			wantErr: true,
		},
		{
			name:    "missing secret",
			content: "STORAGE_DRIVER=memory\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeEnv(t, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
