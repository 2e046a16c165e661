package httpapi

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/storage"
	svcerrors "github.com/qltv/library_service/internal/errors"
)

func (h *handler) registerCatalog(api *mux.Router) {
	books := api.PathPrefix("/books").Subrouter()
	books.HandleFunc("", h.listBooks).Methods(http.MethodGet)
	books.HandleFunc("/featured", h.bookList(h.app.Catalog.FeaturedBooks, 8)).Methods(http.MethodGet)
	books.HandleFunc("/recent", h.bookList(h.app.Catalog.RecentBooks, 10)).Methods(http.MethodGet)
	books.HandleFunc("/top-rated", h.topRated).Methods(http.MethodGet)
	books.HandleFunc("/most-borrowed", h.mostBorrowed).Methods(http.MethodGet)
	books.HandleFunc("/genres", h.genres).Methods(http.MethodGet)
	books.HandleFunc("/statistics", h.bookStatistics).Methods(http.MethodGet)
	books.HandleFunc("/status-summary", h.statusSummary).Methods(http.MethodGet)
	books.HandleFunc("/{id}", getHandler(h.app.Catalog.GetBook)).Methods(http.MethodGet)
	books.Handle("", roles(createHandler(h.app.Catalog.CreateBook), admin...)).Methods(http.MethodPost)
	books.Handle("/{id}", roles(updateHandler(h.app.Catalog.UpdateBook), admin...)).Methods(http.MethodPut)
	books.Handle("/{id}", roles(deleteHandler(h.app.Catalog.DeleteBook), admin...)).Methods(http.MethodDelete)
	books.Handle("/{id}/cover", roles(h.uploadCover, admin...)).Methods(http.MethodPost)

	authors := api.PathPrefix("/authors").Subrouter()
	authors.HandleFunc("", listHandler(h.app.Catalog.ListAuthors)).Methods(http.MethodGet)
	authors.HandleFunc("/{id}", getHandler(h.app.Catalog.GetAuthor)).Methods(http.MethodGet)
	authors.Handle("", roles(createHandler(h.app.Catalog.CreateAuthor), admin...)).Methods(http.MethodPost)
	authors.Handle("/{id}", roles(updateHandler(h.app.Catalog.UpdateAuthor), admin...)).Methods(http.MethodPut)
	authors.Handle("/{id}", roles(deleteHandler(h.app.Catalog.DeleteAuthor), admin...)).Methods(http.MethodDelete)

	categories := api.PathPrefix("/categories").Subrouter()
	categories.HandleFunc("", listHandler(h.app.Catalog.ListCategories)).Methods(http.MethodGet)
	categories.HandleFunc("/{id}", getHandler(h.app.Catalog.GetCategory)).Methods(http.MethodGet)
	categories.Handle("", roles(createHandler(h.app.Catalog.CreateCategory), admin...)).Methods(http.MethodPost)
	categories.Handle("/{id}", roles(updateHandler(h.app.Catalog.UpdateCategory), admin...)).Methods(http.MethodPut)
	categories.Handle("/{id}", roles(deleteHandler(h.app.Catalog.DeleteCategory), admin...)).Methods(http.MethodDelete)

	publishers := api.PathPrefix("/publishers").Subrouter()
	publishers.HandleFunc("", listHandler(h.app.Catalog.ListPublishers)).Methods(http.MethodGet)
	publishers.HandleFunc("/{id}", getHandler(h.app.Catalog.GetPublisher)).Methods(http.MethodGet)
	publishers.Handle("", roles(createHandler(h.app.Catalog.CreatePublisher), admin...)).Methods(http.MethodPost)
	publishers.Handle("/{id}", roles(updateHandler(h.app.Catalog.UpdatePublisher), admin...)).Methods(http.MethodPut)
	publishers.Handle("/{id}", roles(deleteHandler(h.app.Catalog.DeletePublisher), admin...)).Methods(http.MethodDelete)

	api.HandleFunc("/suggestions/{kind}", h.suggest).Methods(http.MethodGet)
}

// generic resource handlers -------------------------------------------------------

func getHandler[T any](get func(context.Context, string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := get(r.Context(), pathVar(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func listHandler[T any](list func(context.Context, string, storage.Page) (storage.PageResult[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := list(r.Context(), r.URL.Query().Get("q"), pageFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func createHandler[T any](create func(context.Context, T) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in T
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		v, err := create(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

func updateHandler[In, Out any](update func(context.Context, string, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if err := decode(r, &in); err != nil {
			writeError(w, r, err)
			return
		}
		v, err := update(r.Context(), pathVar(r, "id"), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func deleteHandler(del func(context.Context, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := del(r.Context(), pathVar(r, "id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// books ---------------------------------------------------------------------

func (h *handler) listBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	available, err := boolQuery(r, "available")
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := storage.BookFilter{
		Query:         q.Get("q"),
		CategoryID:    q.Get("categoryId"),
		AuthorID:      q.Get("authorId"),
		PublisherID:   q.Get("publisherId"),
		Genre:         q.Get("genre"),
		Status:        catalog.BookStatus(strings.ToUpper(q.Get("status"))),
		AvailableOnly: available != nil && *available,
	}
	page, err := h.app.Catalog.ListBooks(r.Context(), filter, pageFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) bookList(fn func(context.Context, int) ([]catalog.Book, error), fallback int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		books, err := fn(r.Context(), intQuery(r, "limit", fallback))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	}
}

func (h *handler) topRated(w http.ResponseWriter, r *http.Request) {
	books, err := h.app.Catalog.TopRated(r.Context(), intQuery(r, "limit", 10))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *handler) mostBorrowed(w http.ResponseWriter, r *http.Request) {
	books, err := h.app.Catalog.MostBorrowed(r.Context(), intQuery(r, "limit", 10))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *handler) genres(w http.ResponseWriter, r *http.Request) {
	genres, err := h.app.Catalog.Genres(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, genres)
}

func (h *handler) bookStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Catalog.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) statusSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Catalog.StatusSummary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// uploadCover accepts either a multipart "file" field or a raw image body.
func (h *handler) uploadCover(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mediaType, "multipart/") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, svcerrors.InvalidInput("multipart field \"file\" is required"))
			return
		}
		defer file.Close()
		body = file
	}
	book, err := h.app.Catalog.SetCover(r.Context(), pathVar(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *handler) suggest(w http.ResponseWriter, r *http.Request) {
	names, err := h.app.Catalog.Suggest(r.Context(), pathVar(r, "kind"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}
