// Package app composes the library back office into a running application.
//
// # Architecture Role
//
// The app package wires storage, domain services and background workers
// together. Business rules live in internal/app/services/; this package only
// decides which implementation backs each dependency and manages lifecycle.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── catalog/        # Books, authors, categories, publishers
//	│   ├── inventory/      # Physical copies
//	│   ├── loan/           # Loans and fine arithmetic
//	│   ├── payment/        # Deposits and fine payments
//	│   └── ...             # Patrons, memberships, reviews
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces (PatronStore, LoanStore, etc.)
//	│   ├── memory/         # In-memory implementation for tests and demos
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic per module
//	├── httpapi/            # HTTP routes and handlers
//	├── auth/               # Token issuing and password hashing
//	├── jobs/               # Cron scheduled maintenance
//	├── realtime/           # Staff notification hub
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// # What Belongs Here vs services/
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                      internal/app/ (Composition)                     │
//	├─────────────────────────────────────────────────────────────────────┤
//	│ ✓ Application struct and wiring                                      │
//	│ ✓ Domain models (pure data, small invariants)                        │
//	│ ✓ Storage interfaces (repository pattern)                            │
//	│ ✓ HTTP handlers (request/response handling)                          │
//	│ ✗ Lending, payment and membership rules (belong in services/)        │
//	└─────────────────────────────────────────────────────────────────────┘
//
// # Dependency Direction
//
//	cmd/libraryd, cmd/libraryctl
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      ├──► internal/app/storage/{memory,postgres}
//	      │
//	      └──► internal/{cache,covers,vnpay,platform} (drivers)
//
// Loans and payments depend on each other: payments settles loans through the
// loans.Service, and loans opens deposits through payments.Service. New wires
// the cycle with AttachDeposits after both exist.
package app
