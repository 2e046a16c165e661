package catalog

import (
	"context"
	"io"
	"time"

	"github.com/qltv/library_service/internal/app/storage"
	"github.com/qltv/library_service/internal/cache"
	"github.com/qltv/library_service/pkg/logger"
)

const (
	defaultCacheTTL = 5 * time.Minute
	statsKey        = "catalog:stats"
	maxSuggestions  = 10
)

// CoverUploader stores cover images.
type CoverUploader interface {
	Upload(ctx context.Context, bookID string, body io.Reader) (string, error)
}

// Service manages books, authors, categories and publishers.
type Service struct {
	store   storage.CatalogStore
	loans   storage.LoanStore
	reviews storage.ReviewStore
	cache   cache.Cache
	ttl     time.Duration
	covers  CoverUploader
	log     *logger.Logger
}

// New constructs the catalog service. loans and reviews feed the popularity
// listings and may be nil.
func New(store storage.CatalogStore, loans storage.LoanStore, reviews storage.ReviewStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{
		store:   store,
		loans:   loans,
		reviews: reviews,
		cache:   cache.Noop{},
		ttl:     defaultCacheTTL,
		log:     log,
	}
}

// AttachCache enables read caching of book details and statistics.
func (s *Service) AttachCache(c cache.Cache, ttl time.Duration) {
	if c == nil {
		return
	}
	s.cache = c
	if ttl > 0 {
		s.ttl = ttl
	}
}

// AttachCoverUploader enables SetCover.
func (s *Service) AttachCoverUploader(u CoverUploader) {
	s.covers = u
}

func bookKey(id string) string { return "book:" + id }

func (s *Service) invalidate(ctx context.Context, bookIDs ...string) {
	keys := []string{statsKey}
	for _, id := range bookIDs {
		keys = append(keys, bookKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.WithError(err).Warn("cache invalidation failed")
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, dst interface{}) bool {
	ok, err := s.cache.Get(ctx, key, dst)
	if err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache read failed")
		return false
	}
	return ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
}
