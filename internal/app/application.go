package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qltv/library_service/internal/app/auth"
	"github.com/qltv/library_service/internal/app/jobs"
	"github.com/qltv/library_service/internal/app/realtime"
	"github.com/qltv/library_service/internal/app/services/accounts"
	"github.com/qltv/library_service/internal/app/services/assistant"
	catalogsvc "github.com/qltv/library_service/internal/app/services/catalog"
	"github.com/qltv/library_service/internal/app/services/inventory"
	"github.com/qltv/library_service/internal/app/services/loans"
	"github.com/qltv/library_service/internal/app/services/membership"
	"github.com/qltv/library_service/internal/app/services/patrons"
	"github.com/qltv/library_service/internal/app/services/payments"
	"github.com/qltv/library_service/internal/app/services/reports"
	"github.com/qltv/library_service/internal/app/services/reviews"
	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/app/storage/memory"
	"github.com/qltv/library_service/internal/app/system"
	"github.com/qltv/library_service/internal/cache"
	"github.com/qltv/library_service/internal/config"
	"github.com/qltv/library_service/internal/covers"
	"github.com/qltv/library_service/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Patrons     storage.PatronStore
	Catalog     storage.CatalogStore
	Copies      storage.CopyStore
	Loans       storage.LoanStore
	Payments    storage.PaymentStore
	Memberships storage.MembershipStore
	Reviews     storage.ReviewStore
}

// Options carries the optional collaborators. Zero values select in-process
// defaults: default policy, no cache, no payment gateway, no cover storage.
type Options struct {
	Policy *config.Policy
	Tokens *auth.TokenManager

	Cache    cache.Cache
	CacheTTL time.Duration

	// Gateway enables VNPay checkout; Querier additionally enables the
	// querydr settlement resolver.
	Gateway            payments.Gateway
	Querier            payments.Querier
	PaymentWindow      time.Duration
	SettlementInterval time.Duration

	Covers        covers.Store
	CoverMaxBytes int64

	Assistant  config.AssistantConfig
	HTTPClient *http.Client

	Jobs config.JobsConfig

	// CheckOrigin guards websocket upgrades; nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	policy  *config.Policy

	Tokens     *auth.TokenManager
	Accounts   *accounts.Service
	Patrons    *patrons.Service
	Catalog    *catalogsvc.Service
	Inventory  *inventory.Service
	Loans      *loans.Service
	Payments   *payments.Service
	Membership *membership.Service
	Reviews    *reviews.Service
	Reports    *reports.Service
	Assistant  *assistant.Service
	Hub        *realtime.Hub
	Jobs       *jobs.Scheduler
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Policy == nil {
		opts.Policy = config.DefaultPolicy()
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}

	mem := memory.New()
	if stores.Patrons == nil {
		stores.Patrons = mem
	}
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Copies == nil {
		stores.Copies = mem
	}
	if stores.Loans == nil {
		stores.Loans = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Memberships == nil {
		stores.Memberships = mem
	}
	if stores.Reviews == nil {
		stores.Reviews = mem
	}

	manager := system.NewManager()
	hub := realtime.NewHub(log.Component("realtime"), opts.CheckOrigin)

	memberSvc := membership.New(stores.Memberships, stores.Patrons, opts.Policy, log.Component("membership"))
	memberSvc.AttachPublisher(hub)

	acctService := accounts.New(stores.Patrons, opts.Tokens, log.Component("accounts"))
	acctService.AttachEnroller(func(ctx context.Context, patronID string) error {
		_, err := memberSvc.Create(ctx, patronID)
		return err
	})
	patronService := patrons.New(stores.Patrons, stores.Loans, stores.Reviews, memberSvc, log.Component("patrons"))

	catalogService := catalogsvc.New(stores.Catalog, stores.Loans, stores.Reviews, log.Component("catalog"))
	catalogService.AttachCache(opts.Cache, opts.CacheTTL)
	if opts.Covers != nil {
		catalogService.AttachCoverUploader(covers.NewUploader(opts.Covers, opts.CoverMaxBytes, log.Component("covers")))
	}

	inventoryService := inventory.New(stores.Copies, stores.Catalog, catalogService, log.Component("inventory")).
		WithDefaultLocation(opts.Policy.DefaultCopyLocation)

	loanService := loans.New(stores.Loans, stores.Patrons, stores.Catalog, inventoryService, memberSvc, opts.Policy, log.Component("loans"))
	loanService.AttachPublisher(hub)

	paymentService := payments.New(stores.Payments, loanService, opts.Policy, log.Component("payments"))
	paymentService.AttachPublisher(hub)
	loanService.AttachDeposits(paymentService)

	reviewService := reviews.New(stores.Reviews, stores.Loans, stores.Catalog, log.Component("reviews"))
	reviewService.AttachCache(opts.Cache, opts.CacheTTL)
	reviewService.AttachPublisher(hub)

	reportService := reports.New(reports.Stores{
		Catalog:  stores.Catalog,
		Copies:   stores.Copies,
		Loans:    stores.Loans,
		Payments: stores.Payments,
		Patrons:  stores.Patrons,
	}, catalogService, memberSvc, log.Component("reports"))
	if p, ok := stores.Loans.(storage.Pinger); ok {
		reportService.AttachPinger("database", p)
	}
	if p, ok := opts.Cache.(storage.Pinger); ok {
		reportService.AttachPinger("cache", p)
	}

	assistantService := assistant.New(opts.Assistant, stores.Catalog, opts.HTTPClient, log.Component("assistant"))

	scheduler := jobs.New(log.Component("jobs"))
	if err := jobs.RegisterLibraryJobs(scheduler, opts.Jobs, loanService, paymentService); err != nil {
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	services := []system.Service{hub, scheduler}
	if opts.Gateway != nil {
		window := opts.PaymentWindow
		if window <= 0 {
			window = 15 * time.Minute
		}
		paymentService.AttachGateway(opts.Gateway, window)

		var resolver payments.Resolver = payments.NewDeadlineResolver(window)
		if opts.Querier != nil {
			resolver = payments.NewQueryResolver(opts.Querier, resolver)
		}
		services = append(services, payments.NewSettlementPoller(stores.Payments, paymentService, resolver, opts.SettlementInterval, log.Component("payment-settlement")))
	} else {
		log.Warn("payment gateway not configured; VNPay checkout disabled")
	}

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		policy:     opts.Policy,
		Tokens:     opts.Tokens,
		Accounts:   acctService,
		Patrons:    patronService,
		Catalog:    catalogService,
		Inventory:  inventoryService,
		Loans:      loanService,
		Payments:   paymentService,
		Membership: memberSvc,
		Reviews:    reviewService,
		Reports:    reportService,
		Assistant:  assistantService,
		Hub:        hub,
		Jobs:       scheduler,
	}, nil
}

// Policy returns the lending policy in effect.
func (a *Application) Policy() *config.Policy { return a.policy }

// Bootstrap seeds membership tiers and, when credentials are given, the first
// administrator.
func (a *Application) Bootstrap(ctx context.Context, adminEmail, adminPassword string) error {
	if err := a.Membership.EnsureTiers(ctx); err != nil {
		return fmt.Errorf("seed membership tiers: %w", err)
	}
	if adminEmail == "" || adminPassword == "" {
		return nil
	}
	created, err := a.Accounts.EnsureAdmin(ctx, "Administrator", adminEmail, adminPassword)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if created {
		a.log.WithField("email", adminEmail).Info("bootstrap administrator created")
	}
	return nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
