package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9000"
  cors_origins:
    - https://app.example.com
  rate_limit:
    enabled: true
    auth:
      requests_per_minute: 10
auth:
  session_ttl: 12h
  anonymous_read: true
  users:
    - username: admin
      password: secret
      role: admin
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5432
    user: pwanalyst
    password: hunter2
    database: pwanalyst
archive:
  local:
    enabled: true
    dir: /var/lib/pwanalyst/reports
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.Server.RateLimit.Auth.RequestsPerMinute)

	assert.Equal(t, "12h", cfg.Auth.SessionTTL)
	assert.True(t, cfg.Auth.AnonymousRead)
	require.Len(t, cfg.Auth.Users, 1)
	assert.Equal(t, "admin", cfg.Auth.Users[0].Username)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)

	require.NotNil(t, cfg.Archive)
	require.NotNil(t, cfg.Archive.Local)
	assert.True(t, cfg.Archive.Local.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultSessionTTL, cfg.Auth.SessionTTL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, DefaultSQLitePath, cfg.Database.SQLite.Path)
	assert.False(t, cfg.Auth.AnonymousRead)
	assert.Nil(t, cfg.Archive)

	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.applyDefaults()

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "unsupported driver",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "oracle"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "postgres without host",
			mutate: func(cfg *Config) {
				cfg.Database.Driver = "postgres"
				cfg.Database.Postgres.Database = "pw"
			},
			wantErr: "database.postgres.host is required",
		},
		{
			name: "bad session ttl",
			mutate: func(cfg *Config) {
				cfg.Auth.SessionTTL = "soon"
			},
			wantErr: "invalid auth.session_ttl",
		},
		{
			name: "user without password",
			mutate: func(cfg *Config) {
				cfg.Auth.Users = []BasicAuthUser{{Username: "a"}}
			},
			wantErr: "password is required",
		},
		{
			name: "duplicate usernames",
			mutate: func(cfg *Config) {
				cfg.Auth.Users = []BasicAuthUser{
					{Username: "a", Password: "x"},
					{Username: "a", Password: "y"},
				}
			},
			wantErr: "duplicate username",
		},
		{
			name: "both archive backends enabled",
			mutate: func(cfg *Config) {
				cfg.Archive = &ArchiveConfig{
					Local: &LocalArchiveConfig{Enabled: true, Dir: "/tmp/a"},
					S3:    &S3ArchiveConfig{Enabled: true, Bucket: "b"},
				}
			},
			wantErr: "only one of local or s3",
		},
		{
			name: "local archive without dir",
			mutate: func(cfg *Config) {
				cfg.Archive = &ArchiveConfig{
					Local: &LocalArchiveConfig{Enabled: true},
				}
			},
			wantErr: "archive.local.dir is required",
		},
		{
			name: "s3 archive without bucket",
			mutate: func(cfg *Config) {
				cfg.Archive = &ArchiveConfig{
					S3: &S3ArchiveConfig{Enabled: true},
				}
			},
			wantErr: "archive.s3.bucket is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSessionTTLDuration(t *testing.T) {
	auth := AuthConfig{SessionTTL: "30m"}
	assert.Equal(t, 30*time.Minute, auth.SessionTTLDuration())

	auth.SessionTTL = "garbage"
	assert.Equal(t, 24*time.Hour, auth.SessionTTLDuration())
}
