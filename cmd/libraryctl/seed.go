package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/runtime"
	"github.com/qltv/library_service/internal/app/storage"
)

var seedCopies int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo catalog with authors, publishers, categories, books and copies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd.Context(), func(a *runtime.Application) error {
			return seedCatalog(cmd.Context(), a)
		})
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCopies, "copies", 3, "Copies created per book")
}

type demoBook struct {
	title, isbn, genre, author, publisher, category string
	fee                                             int64
}

var (
	demoCategories = []catalog.Category{
		{Name: "Văn học", Description: "Tiểu thuyết, truyện ngắn và thơ"},
		{Name: "Thiếu nhi", Description: "Sách cho thiếu nhi"},
		{Name: "Khoa học", Description: "Khoa học tự nhiên và phổ thông"},
		{Name: "Lịch sử", Description: "Lịch sử Việt Nam và thế giới"},
	}
	demoAuthors = []catalog.Author{
		{Name: "Nguyễn Nhật Ánh", Nationality: "Việt Nam"},
		{Name: "Tô Hoài", Nationality: "Việt Nam"},
		{Name: "Stephen Hawking", Nationality: "Anh"},
		{Name: "Trần Trọng Kim", Nationality: "Việt Nam"},
	}
	demoPublishers = []catalog.Publisher{
		{Name: "NXB Trẻ", Country: "Việt Nam", Website: "https://www.nxbtre.com.vn"},
		{Name: "NXB Kim Đồng", Country: "Việt Nam", Website: "https://nxbkimdong.com.vn"},
	}
	demoBooks = []demoBook{
		{"Mắt biếc", "9786041000001", "Tiểu thuyết", "Nguyễn Nhật Ánh", "NXB Trẻ", "Văn học", 10000},
		{"Cho tôi xin một vé đi tuổi thơ", "9786041000002", "Tiểu thuyết", "Nguyễn Nhật Ánh", "NXB Trẻ", "Văn học", 10000},
		{"Dế Mèn phiêu lưu ký", "9786042000003", "Thiếu nhi", "Tô Hoài", "NXB Kim Đồng", "Thiếu nhi", 5000},
		{"Lược sử thời gian", "9786041000004", "Khoa học", "Stephen Hawking", "NXB Trẻ", "Khoa học", 15000},
		{"Việt Nam sử lược", "9786041000005", "Lịch sử", "Trần Trọng Kim", "NXB Trẻ", "Lịch sử", 12000},
	}
)

// seedCatalog is a no-op when the catalog already has books.
func seedCatalog(ctx context.Context, a *runtime.Application) error {
	svc := a.App().Catalog
	existing, err := svc.ListBooks(ctx, storage.BookFilter{}, storage.Page{Size: 1})
	if err != nil {
		return err
	}
	if existing.TotalItems > 0 {
		out.Info("catalog already has %d books; nothing to seed", existing.TotalItems)
		return nil
	}

	categories := make(map[string]string)
	for _, c := range demoCategories {
		created, err := svc.CreateCategory(ctx, c)
		if err != nil {
			return fmt.Errorf("category %s: %w", c.Name, err)
		}
		categories[c.Name] = created.ID
	}
	authors := make(map[string]string)
	for _, au := range demoAuthors {
		created, err := svc.CreateAuthor(ctx, au)
		if err != nil {
			return fmt.Errorf("author %s: %w", au.Name, err)
		}
		authors[au.Name] = created.ID
	}
	publishers := make(map[string]string)
	for _, p := range demoPublishers {
		created, err := svc.CreatePublisher(ctx, p)
		if err != nil {
			return fmt.Errorf("publisher %s: %w", p.Name, err)
		}
		publishers[p.Name] = created.ID
	}

	bar := out.Progress(len(demoBooks), "books")
	for _, b := range demoBooks {
		book, err := svc.CreateBook(ctx, catalog.Book{
			Title:       b.title,
			ISBN:        b.isbn,
			Genre:       b.genre,
			Fee:         b.fee,
			AuthorIDs:   []string{authors[b.author]},
			PublisherID: publishers[b.publisher],
			CategoryID:  categories[b.category],
		})
		if err != nil {
			return fmt.Errorf("book %s: %w", b.title, err)
		}
		if seedCopies > 0 {
			if _, err := a.App().Inventory.CreateCopies(ctx, book.ID, seedCopies, "", 0); err != nil {
				return fmt.Errorf("copies for %s: %w", b.title, err)
			}
		}
		bar.Increment()
	}
	bar.Finish()

	out.Success("seeded %d categories, %d authors, %d publishers and %d books", len(demoCategories), len(demoAuthors), len(demoPublishers), len(demoBooks))
	return nil
}
