package storage

// DefaultPageSize and MaxPageSize bound paginated listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is a zero based page request.
type Page struct {
	Page int
	Size int
}

// Normalize clamps the page to valid bounds.
func (p Page) Normalize() Page {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// PageResult is one page of items plus totals.
type PageResult[T any] struct {
	Items      []T  `json:"content"`
	Page       int  `json:"page"`
	Size       int  `json:"size"`
	TotalItems int  `json:"totalElements"`
	TotalPages int  `json:"totalPages"`
	Last       bool `json:"last"`
}

// Paginate slices items, which must already be sorted.
func Paginate[T any](items []T, page Page) PageResult[T] {
	page = page.Normalize()
	total := len(items)
	pages := (total + page.Size - 1) / page.Size

	start := page.Page * page.Size
	if start > total {
		start = total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	out := make([]T, end-start)
	copy(out, items[start:end])

	return PageResult[T]{
		Items:      out,
		Page:       page.Page,
		Size:       page.Size,
		TotalItems: total,
		TotalPages: pages,
		Last:       page.Page >= pages-1,
	}
}
