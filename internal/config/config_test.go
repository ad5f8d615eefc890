package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no local config.json or .env is picked up
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, int64(3000), cfg.Triage.RejectBelow)
	assert.Equal(t, int64(50000), cfg.Triage.QualifyAbove)
	assert.True(t, cfg.FollowUp.Enabled)
	assert.Equal(t, "0 0 9 * * *", cfg.FollowUp.Cron)
	assert.Equal(t, 24*time.Hour, cfg.FollowUp.StaleForDuration())
	assert.Equal(t, 500, cfg.FollowUp.BatchSize)
	assert.Equal(t, 64, cfg.Events.SubscriberBuffer)
	assert.Equal(t, "local", cfg.Storage.Mode)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Contains(t, cfg.RateLimit.WhitelistPaths, "/health")
	assert.Zero(t, cfg.Server.WriteTimeoutDuration())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("TRIAGE_REJECTBELOW", "5000")
	t.Setenv("APP_ENVIRONMENT", "staging")
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("CREDENTIAL_ENCRYPTION_KEY", strings.Repeat("ab", 32))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(5000), cfg.Triage.RejectBelow)
	assert.Equal(t, "staging", cfg.App.Environment)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)

	key, err := cfg.Email.CredentialKeyBytes()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempDir(t)
	content := `{"app": {"port": 9090, "bookingBaseURL": "https://book.example.com/m/"}, "triage": {"qualifyAbove": 80000}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "https://book.example.com/m/", cfg.App.BookingBaseURL)
	assert.Equal(t, int64(80000), cfg.Triage.QualifyAbove)
	assert.Equal(t, int64(3000), cfg.Triage.RejectBelow)
}

func TestCredentialKeyBytes(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{"valid", strings.Repeat("0f", 32), ""},
		{"not hex", "zz", "decode credential key"},
		{"too short", strings.Repeat("0f", 16), "must be 32 bytes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EmailConfig{CredentialKey: tt.key}
			_, err := cfg.CredentialKeyBytes()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecretOrEnv(ctx context.Context, secretName, envName string) (string, error) {
	if v, ok := f[secretName]; ok {
		return v, nil
	}
	return "", errors.New("secret not found: " + secretName)
}

func TestApplySecrets(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Host: "localhost", User: "leads_user"}}
	source := fakeSecrets{
		"POSTGRES-MAIN-HOST":        "db.internal",
		"jwt-secret":                "vault-secret",
		"credential-encryption-key": strings.Repeat("aa", 32),
	}

	require.NoError(t, applySecrets(context.Background(), cfg, source))
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "leads_user", cfg.Database.User, "missing secrets keep the loaded value")
	assert.Equal(t, "vault-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, strings.Repeat("aa", 32), cfg.Email.CredentialKey)

	err := applySecrets(context.Background(), &Config{}, fakeSecrets{})
	assert.ErrorContains(t, err, "credential encryption key")
}

func TestDatabaseConnectionString(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "leads", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=leads sslmode=disable", d.ConnectionString())
}
