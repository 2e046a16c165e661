package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

// Authors ---------------------------------------------------------------------

// CreateAuthor adds an author with a unique name.
func (s *Service) CreateAuthor(ctx context.Context, a catalog.Author) (catalog.Author, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return catalog.Author{}, svcerrors.InvalidInput("name is required")
	}
	existing, err := s.store.ListAuthors(ctx)
	if err != nil {
		return catalog.Author{}, err
	}
	if nameTaken(existing, "", a.Name, func(x catalog.Author) (string, string) { return x.ID, x.Name }) {
		return catalog.Author{}, svcerrors.AlreadyExists("author", "name", a.Name)
	}
	a.ID = ""
	created, err := s.store.CreateAuthor(ctx, a)
	if err != nil {
		return catalog.Author{}, err
	}
	s.invalidate(ctx)
	s.log.WithField("author_id", created.ID).Info("author created")
	return created, nil
}

// UpdateAuthor replaces an author's fields.
func (s *Service) UpdateAuthor(ctx context.Context, id string, a catalog.Author) (catalog.Author, error) {
	current, err := s.GetAuthor(ctx, id)
	if err != nil {
		return catalog.Author{}, err
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return catalog.Author{}, svcerrors.InvalidInput("name is required")
	}
	existing, err := s.store.ListAuthors(ctx)
	if err != nil {
		return catalog.Author{}, err
	}
	if nameTaken(existing, id, a.Name, func(x catalog.Author) (string, string) { return x.ID, x.Name }) {
		return catalog.Author{}, svcerrors.AlreadyExists("author", "name", a.Name)
	}
	a.ID = current.ID
	a.CreatedAt = current.CreatedAt
	updated, err := s.store.UpdateAuthor(ctx, a)
	if err != nil {
		return catalog.Author{}, storage.Translate(err, "author", id)
	}
	return updated, nil
}

// DeleteAuthor removes an author no book references.
func (s *Service) DeleteAuthor(ctx context.Context, id string) error {
	if _, err := s.GetAuthor(ctx, id); err != nil {
		return err
	}
	if err := s.ensureUnreferenced(ctx, storage.BookFilter{AuthorID: id}, "author"); err != nil {
		return err
	}
	if err := s.store.DeleteAuthor(ctx, id); err != nil {
		return storage.Translate(err, "author", id)
	}
	s.invalidate(ctx)
	return nil
}

// GetAuthor fetches an author.
func (s *Service) GetAuthor(ctx context.Context, id string) (catalog.Author, error) {
	a, err := s.store.GetAuthor(ctx, id)
	if err != nil {
		return catalog.Author{}, storage.Translate(err, "author", id)
	}
	return a, nil
}

// ListAuthors pages through authors whose name contains query.
func (s *Service) ListAuthors(ctx context.Context, query string, page storage.Page) (storage.PageResult[catalog.Author], error) {
	all, err := s.store.ListAuthors(ctx)
	if err != nil {
		return storage.PageResult[catalog.Author]{}, err
	}
	return storage.Paginate(filterByName(all, query, func(a catalog.Author) string { return a.Name }), page), nil
}

// Categories ------------------------------------------------------------------

// CreateCategory adds a category with a unique name.
func (s *Service) CreateCategory(ctx context.Context, c catalog.Category) (catalog.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return catalog.Category{}, svcerrors.InvalidInput("name is required")
	}
	existing, err := s.store.ListCategories(ctx)
	if err != nil {
		return catalog.Category{}, err
	}
	if nameTaken(existing, "", c.Name, func(x catalog.Category) (string, string) { return x.ID, x.Name }) {
		return catalog.Category{}, svcerrors.AlreadyExists("category", "name", c.Name)
	}
	c.ID = ""
	created, err := s.store.CreateCategory(ctx, c)
	if err != nil {
		return catalog.Category{}, err
	}
	s.invalidate(ctx)
	s.log.WithField("category_id", created.ID).Info("category created")
	return created, nil
}

// UpdateCategory replaces a category's fields.
func (s *Service) UpdateCategory(ctx context.Context, id string, c catalog.Category) (catalog.Category, error) {
	current, err := s.GetCategory(ctx, id)
	if err != nil {
		return catalog.Category{}, err
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return catalog.Category{}, svcerrors.InvalidInput("name is required")
	}
	existing, err := s.store.ListCategories(ctx)
	if err != nil {
		return catalog.Category{}, err
	}
	if nameTaken(existing, id, c.Name, func(x catalog.Category) (string, string) { return x.ID, x.Name }) {
		return catalog.Category{}, svcerrors.AlreadyExists("category", "name", c.Name)
	}
	c.ID = current.ID
	c.CreatedAt = current.CreatedAt
	updated, err := s.store.UpdateCategory(ctx, c)
	if err != nil {
		return catalog.Category{}, storage.Translate(err, "category", id)
	}
	return updated, nil
}

// DeleteCategory removes a category no book references.
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if _, err := s.GetCategory(ctx, id); err != nil {
		return err
	}
	if err := s.ensureUnreferenced(ctx, storage.BookFilter{CategoryID: id}, "category"); err != nil {
		return err
	}
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return storage.Translate(err, "category", id)
	}
	s.invalidate(ctx)
	return nil
}

// GetCategory fetches a category.
func (s *Service) GetCategory(ctx context.Context, id string) (catalog.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return catalog.Category{}, storage.Translate(err, "category", id)
	}
	return c, nil
}

// ListCategories pages through categories whose name contains query.
func (s *Service) ListCategories(ctx context.Context, query string, page storage.Page) (storage.PageResult[catalog.Category], error) {
	all, err := s.store.ListCategories(ctx)
	if err != nil {
		return storage.PageResult[catalog.Category]{}, err
	}
	return storage.Paginate(filterByName(all, query, func(c catalog.Category) string { return c.Name }), page), nil
}

// Publishers ------------------------------------------------------------------

// CreatePublisher adds a publisher with a unique name.
func (s *Service) CreatePublisher(ctx context.Context, p catalog.Publisher) (catalog.Publisher, error) {
	if err := validatePublisher(&p); err != nil {
		return catalog.Publisher{}, err
	}
	existing, err := s.store.ListPublishers(ctx)
	if err != nil {
		return catalog.Publisher{}, err
	}
	if nameTaken(existing, "", p.Name, func(x catalog.Publisher) (string, string) { return x.ID, x.Name }) {
		return catalog.Publisher{}, svcerrors.AlreadyExists("publisher", "name", p.Name)
	}
	p.ID = ""
	created, err := s.store.CreatePublisher(ctx, p)
	if err != nil {
		return catalog.Publisher{}, err
	}
	s.invalidate(ctx)
	s.log.WithField("publisher_id", created.ID).Info("publisher created")
	return created, nil
}

// UpdatePublisher replaces a publisher's fields.
func (s *Service) UpdatePublisher(ctx context.Context, id string, p catalog.Publisher) (catalog.Publisher, error) {
	current, err := s.GetPublisher(ctx, id)
	if err != nil {
		return catalog.Publisher{}, err
	}
	if err := validatePublisher(&p); err != nil {
		return catalog.Publisher{}, err
	}
	existing, err := s.store.ListPublishers(ctx)
	if err != nil {
		return catalog.Publisher{}, err
	}
	if nameTaken(existing, id, p.Name, func(x catalog.Publisher) (string, string) { return x.ID, x.Name }) {
		return catalog.Publisher{}, svcerrors.AlreadyExists("publisher", "name", p.Name)
	}
	p.ID = current.ID
	p.CreatedAt = current.CreatedAt
	updated, err := s.store.UpdatePublisher(ctx, p)
	if err != nil {
		return catalog.Publisher{}, storage.Translate(err, "publisher", id)
	}
	return updated, nil
}

// DeletePublisher removes a publisher no book references.
func (s *Service) DeletePublisher(ctx context.Context, id string) error {
	if _, err := s.GetPublisher(ctx, id); err != nil {
		return err
	}
	if err := s.ensureUnreferenced(ctx, storage.BookFilter{PublisherID: id}, "publisher"); err != nil {
		return err
	}
	if err := s.store.DeletePublisher(ctx, id); err != nil {
		return storage.Translate(err, "publisher", id)
	}
	s.invalidate(ctx)
	return nil
}

// GetPublisher fetches a publisher.
func (s *Service) GetPublisher(ctx context.Context, id string) (catalog.Publisher, error) {
	p, err := s.store.GetPublisher(ctx, id)
	if err != nil {
		return catalog.Publisher{}, storage.Translate(err, "publisher", id)
	}
	return p, nil
}

// ListPublishers pages through publishers whose name contains query.
func (s *Service) ListPublishers(ctx context.Context, query string, page storage.Page) (storage.PageResult[catalog.Publisher], error) {
	all, err := s.store.ListPublishers(ctx)
	if err != nil {
		return storage.PageResult[catalog.Publisher]{}, err
	}
	return storage.Paginate(filterByName(all, query, func(p catalog.Publisher) string { return p.Name }), page), nil
}

func validatePublisher(p *catalog.Publisher) error {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	if p.Name == "" {
		return svcerrors.InvalidInput("name is required")
	}
	if p.Email != "" && !strings.Contains(p.Email, "@") {
		return svcerrors.InvalidInput("email is invalid")
	}
	if p.EstablishedYear < 0 {
		return svcerrors.InvalidInput("establishedYear cannot be negative")
	}
	return nil
}

// Suggestions -----------------------------------------------------------------

// Suggestion kinds accepted by Suggest.
const (
	SuggestAuthors    = "authors"
	SuggestPublishers = "publishers"
	SuggestCategories = "categories"
	SuggestGenres     = "genres"
)

// Suggest returns up to ten names of kind matching query, prefix matches first.
func (s *Service) Suggest(ctx context.Context, kind, query string) ([]string, error) {
	var names []string
	switch kind {
	case SuggestAuthors:
		all, err := s.store.ListAuthors(ctx)
		if err != nil {
			return nil, err
		}
		for _, a := range all {
			names = append(names, a.Name)
		}
	case SuggestPublishers:
		all, err := s.store.ListPublishers(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range all {
			names = append(names, p.Name)
		}
	case SuggestCategories:
		all, err := s.store.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range all {
			names = append(names, c.Name)
		}
	case SuggestGenres:
		genres, err := s.Genres(ctx)
		if err != nil {
			return nil, err
		}
		names = genres
	default:
		return nil, svcerrors.InvalidInputf("unknown suggestion kind %q", kind)
	}
	return rankSuggestions(names, query), nil
}

func rankSuggestions(names []string, query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]bool)
	var prefix, contains []string
	for _, name := range names {
		lower := strings.ToLower(strings.TrimSpace(name))
		if lower == "" || seen[lower] {
			continue
		}
		switch {
		case q == "" || strings.HasPrefix(lower, q):
			prefix = append(prefix, name)
		case strings.Contains(lower, q):
			contains = append(contains, name)
		default:
			continue
		}
		seen[lower] = true
	}
	sort.Strings(prefix)
	sort.Strings(contains)
	out := append(prefix, contains...)
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func (s *Service) ensureUnreferenced(ctx context.Context, filter storage.BookFilter, resource string) error {
	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return err
	}
	if len(books) > 0 {
		return svcerrors.Conflict(resource+" is referenced by books").WithDetails("books", len(books))
	}
	return nil
}

func nameTaken[T any](items []T, selfID, name string, key func(T) (string, string)) bool {
	for _, item := range items {
		id, n := key(item)
		if id != selfID && strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}

func filterByName[T any](items []T, query string, name func(T) string) []T {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(name(item)), q) {
			out = append(out, item)
		}
	}
	return out
}
