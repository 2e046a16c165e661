package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/qltv/library_service/internal/app"
	"github.com/qltv/library_service/internal/config"
	"github.com/qltv/library_service/pkg/logger"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{
			Addr:            "127.0.0.1:0",
			ShutdownTimeout: time.Second,
			CORSOrigins:     "http://localhost:4200",
		},
		Auth: config.AuthConfig{
			JWTSecret:     "runtime-test-secret",
			TokenTTL:      time.Hour,
			Issuer:        "library-test",
			AdminEmail:    "root@library.test",
			AdminPassword: "root-secret",
		},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Covers:    config.CoversConfig{Dir: t.TempDir(), PublicPrefix: "/uploads", MaxBytes: 1 << 20},
		Jobs:      config.JobsConfig{OverdueSweep: "@every 1h", PaymentExpiry: "@every 5m"},
		Audit:     config.AuditConfig{Size: 10},
		Policy:    config.DefaultPolicy(),
	}
}

func TestNewApplicationInMemory(t *testing.T) {
	a, err := NewApplication(context.Background(), memoryConfig(t), logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB())
	require.NotNil(t, a.App())

	_, err = a.App().Patrons.GetByEmail(context.Background(), "root@library.test")
	require.NoError(t, err, "bootstrap admin should exist")

	tiers, err := a.App().Membership.Tiers(context.Background())
	require.NoError(t, err)
	assert.Len(t, tiers, 3)

	resp := httptest.NewRecorder()
	a.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestNewApplicationWiresGateway(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.VNPay = config.VNPayConfig{
		TmnCode:      "TESTCODE",
		HashSecret:   "TESTSECRET",
		PayURL:       "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:    "http://localhost:4200/payment/vnpay-return",
		ExpireAfter:  15 * time.Minute,
		QueryEnabled: false,
	}
	var opts app.Options
	a := &Application{cfg: cfg, log: logger.NewNop()}
	require.NoError(t, a.buildGateway(&opts))
	assert.NotNil(t, opts.Gateway)
	assert.Nil(t, opts.Querier)
	assert.Equal(t, 15*time.Minute, opts.PaymentWindow)

	cfg.VNPay.QueryEnabled = true
	cfg.VNPay.APIURL = "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"
	opts = app.Options{}
	require.NoError(t, a.buildGateway(&opts))
	assert.NotNil(t, opts.Querier)
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := NewApplication(context.Background(), memoryConfig(t), logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:4200"})

	req := httptest.NewRequest(http.MethodGet, "http://api.library.test/api/ws/notifications", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:4200")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))

	req.Header.Set("Origin", "http://api.library.test")
	assert.True(t, check(req), "same host")

	assert.True(t, originChecker([]string{"*"})(req))
}

func TestOpenDatabaseRequiresDSN(t *testing.T) {
	_, err := OpenDatabase(context.Background(), config.DatabaseConfig{Driver: "postgres"})
	assert.Error(t, err)
	_, err = OpenDatabase(context.Background(), config.DatabaseConfig{DSN: "postgres://x"})
	assert.Error(t, err)
}
