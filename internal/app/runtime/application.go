// Package runtime assembles the library service from configuration and runs
// its HTTP server.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	app "github.com/qltv/library_service/internal/app"
	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/app/httpapi"
	"github.com/qltv/library_service/internal/app/storage/postgres"
	"github.com/qltv/library_service/internal/cache"
	"github.com/qltv/library_service/internal/config"
	"github.com/qltv/library_service/internal/covers"
	internalhttputil "github.com/qltv/library_service/internal/httputil"
	"github.com/qltv/library_service/internal/middleware"
	"github.com/qltv/library_service/internal/platform/migrations"
	"github.com/qltv/library_service/internal/vnpay"
	"github.com/qltv/library_service/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	db      *sql.DB
	limiter *middleware.RateLimiter
	server  *http.Server
	closers []func() error
}

// NewApplication builds stores, optional integrations, the domain
// application and the HTTP handler. Without a database DSN the in-memory
// stores are used.
func NewApplication(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("runtime")
	}
	a := &Application{cfg: cfg, log: log}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.cfg

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if cfg.Database.AutoMigrate {
			if err := migrations.Up(db); err != nil {
				return err
			}
		}
		store := postgres.New(db)
		stores = app.Stores{
			Patrons:     store,
			Catalog:     store,
			Copies:      store,
			Loans:       store,
			Payments:    store,
			Memberships: store,
			Reviews:     store,
		}
	} else {
		a.log.Warn("LIBRARY_DATABASE_DSN not set; using in-memory stores")
	}

	opts := app.Options{
		Policy:        cfg.Policy,
		Tokens:        tokens,
		CacheTTL:      cfg.Redis.TTL,
		CoverMaxBytes: cfg.Covers.MaxBytes,
		Assistant:     cfg.Assistant,
		HTTPClient:    &http.Client{Timeout: cfg.Assistant.Timeout},
		Jobs:          cfg.Jobs,
		CheckOrigin:   originChecker(cfg.Server.AllowedOrigins()),
	}

	if opts.Cache, err = a.buildCache(ctx); err != nil {
		return err
	}
	uploadsDir, err := a.buildCovers(ctx, &opts)
	if err != nil {
		return err
	}
	if err := a.buildGateway(&opts); err != nil {
		return err
	}

	application, err := app.New(stores, opts, a.log.Component("app"))
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := application.Bootstrap(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return err
	}
	a.app = application

	proxies, err := internalhttputil.ParseTrustedProxies(cfg.Server.TrustedProxyList())
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	a.limiter = middleware.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, a.log.Component("ratelimit"))
	handler, err := httpapi.NewHandler(application, httpapi.Options{
		CORSOrigins:    cfg.Server.AllowedOrigins(),
		RateLimiter:    a.limiter,
		TrustedProxies: proxies,
		AuditSize:      cfg.Audit.Size,
		AuditPath:      cfg.Audit.Path,
		UploadsDir:     uploadsDir,
		UploadsPrefix:  cfg.Covers.PublicPrefix,
		Log:            a.log.Component("http"),
	})
	if err != nil {
		return err
	}
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return nil
}

func (a *Application) buildCache(ctx context.Context) (cache.Cache, error) {
	if a.cfg.Redis.URL == "" {
		return cache.NewMemory(), nil
	}
	r, err := cache.NewRedis(ctx, a.cfg.Redis.URL, "library:")
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, r.Close)
	return r, nil
}

// buildCovers selects MinIO when an endpoint is configured, otherwise a local
// directory that the HTTP handler serves. It returns that directory.
func (a *Application) buildCovers(ctx context.Context, opts *app.Options) (string, error) {
	c := a.cfg.Covers
	if c.MinioEndpoint != "" {
		store, err := covers.NewMinioStore(ctx, covers.MinioConfig{
			Endpoint:  c.MinioEndpoint,
			AccessKey: c.MinioAccessKey,
			SecretKey: c.MinioSecretKey,
			Bucket:    c.MinioBucket,
			UseSSL:    c.MinioUseSSL,
			PublicURL: c.MinioPublicURL,
		})
		if err != nil {
			return "", err
		}
		opts.Covers = store
		return "", nil
	}
	store, err := covers.NewLocalStore(c.Dir, c.PublicPrefix)
	if err != nil {
		return "", fmt.Errorf("cover directory: %w", err)
	}
	opts.Covers = store
	return store.Dir(), nil
}

func (a *Application) buildGateway(opts *app.Options) error {
	v := a.cfg.VNPay
	if !v.Enabled() {
		a.log.Info("VNPay credentials not set; online payment disabled")
		return nil
	}
	client, err := vnpay.New(vnpay.Config{
		TmnCode:    v.TmnCode,
		HashSecret: v.HashSecret,
		PayURL:     v.PayURL,
		APIURL:     v.APIURL,
		ReturnURL:  v.ReturnURL,
	})
	if err != nil {
		return fmt.Errorf("vnpay client: %w", err)
	}
	opts.Gateway = client
	if v.QueryEnabled {
		opts.Querier = client
	}
	opts.PaymentWindow = v.ExpireAfter
	opts.SettlementInterval = v.SettlementInterval
	return nil
}

// App exposes the composed domain application.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler { return a.server.Handler }

// DB returns the database handle, or nil when running in memory.
func (a *Application) DB() *sql.DB { return a.db }

// Run starts the services and the HTTP server and blocks until ctx is
// cancelled or a component fails, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	a.limiter.StartCleanup(gctx, time.Minute)

	g.Go(func() error {
		a.log.WithField("addr", a.server.Addr).Info("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown stops the HTTP server and the lifecycle services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	a.log.Info("library service stopped")
	return errors.Join(errs...)
}

// Close releases the database and cache connections.
func (a *Application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenDatabase opens and pings a pooled connection.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// originChecker admits websocket upgrades from the configured origins.
// Requests without an Origin header come from non-browser clients.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
