package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LIBRARY_POLICY_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("LIBRARY_ENV_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"http://localhost:4200"}, cfg.Server.AllowedOrigins())
	assert.False(t, cfg.VNPay.Enabled())
	assert.Equal(t, int64(5000), cfg.Policy.FinePerDay)
	assert.Len(t, cfg.Policy.Tiers, 3)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LIBRARY_POLICY_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("LIBRARY_HTTP_ADDR", ":9000")
	t.Setenv("LIBRARY_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VNPAY_TMN_CODE", "TMN01")
	t.Setenv("VNPAY_HASH_SECRET", "secret")
	t.Setenv("LIBRARY_JWT_TTL", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins())
	assert.True(t, cfg.VNPay.Enabled())
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
}

func TestLoadPolicyFromPathKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fine_per_day: 7000\nmax_renewals: 1\n"), 0o600))

	policy, err := LoadPolicyFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, int64(7000), policy.FinePerDay)
	assert.Equal(t, 1, policy.MaxRenewals)
	assert.Equal(t, 14, policy.LoanPeriodDays)
	assert.Len(t, policy.Tiers, 3)
}

func TestLoadPolicyRejectsMissingBasicTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.yaml")
	content := "tiers:\n  - name: VIP\n    level: VIP\n    max_books: 5\n    loan_duration_days: 21\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadPolicyFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASIC")

	fallback := LoadPolicyOrDefault(path)
	assert.Equal(t, DefaultPolicy().DepositAmount, fallback.DepositAmount)
}
