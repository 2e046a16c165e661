package inventory

import (
	"context"
	"strings"
	"testing"

	"github.com/qltv/library_service/internal/app/domain/catalog"
	"github.com/qltv/library_service/internal/app/domain/inventory"
	"github.com/qltv/library_service/internal/app/storage/memory"
	svcerrors "github.com/qltv/library_service/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *memory.Store, catalog.Book) {
	t.Helper()
	store := memory.New()
	book, err := store.CreateBook(context.Background(), catalog.Book{Title: "Số đỏ", ISBN: "9786049999001", Status: catalog.StatusUnavailable})
	require.NoError(t, err)
	return New(store, store, nil, nil), store, book
}

func TestGenerateBarcode(t *testing.T) {
	cases := []struct {
		book catalog.Book
		n    int
		want string
	}{
		{catalog.Book{ID: "7", ISBN: "9786049999001"}, 1, "97860499-C001"},
		{catalog.Book{ID: "7", ISBN: "12345"}, 12, "12345-C012"},
		{catalog.Book{ID: "42"}, 3, "00000042-C003"},
		{catalog.Book{ID: "a1b2c3d4-e5f6"}, 100, "a1b2c3d4-C100"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, GenerateBarcode(tc.book, tc.n))
	}
}

func TestCreateCopiesRecountsBook(t *testing.T) {
	svc, store, book := newService(t)
	ctx := context.Background()

	copies, err := svc.CreateCopies(ctx, book.ID, 3, "", 120000)
	require.NoError(t, err)
	require.Len(t, copies, 3)
	for i, c := range copies {
		assert.Equal(t, i+1, c.CopyNumber)
		assert.Equal(t, inventory.StatusAvailable, c.Status)
		assert.Equal(t, inventory.ConditionGood, c.Condition)
		assert.Equal(t, defaultLocation, c.Location)
		assert.NotNil(t, c.AcquiredDate)
	}
	assert.Equal(t, "97860499-C003", copies[2].Barcode)

	got, err := store.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalCopies)
	assert.Equal(t, 3, got.AvailableCopies)
	assert.Equal(t, catalog.StatusAvailable, got.Status)

	_, err = svc.CreateCopies(ctx, book.ID, 0, "", 0)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))
	_, err = svc.CreateCopies(ctx, book.ID, maxBatch+1, "", 0)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))
}

func TestCreateCopyRejectsDuplicateBarcode(t *testing.T) {
	svc, _, book := newService(t)
	ctx := context.Background()

	_, err := svc.CreateCopy(ctx, book.ID, CopyInput{Barcode: "SHELF-1"})
	require.NoError(t, err)
	_, err = svc.CreateCopy(ctx, book.ID, CopyInput{Barcode: "SHELF-1"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeAlreadyExists), "got %v", err)

	_, err = svc.CreateCopy(ctx, "404", CopyInput{})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeNotFound))

	_, err = svc.CreateCopy(ctx, book.ID, CopyInput{Condition: "SHINY"})
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	c, err := svc.GetByBarcode(ctx, " SHELF-1 ")
	require.NoError(t, err)
	assert.Equal(t, 1, c.CopyNumber)
}

func TestDeleteCopyRefusedWhileOut(t *testing.T) {
	svc, store, book := newService(t)
	ctx := context.Background()

	copies, err := svc.CreateCopies(ctx, book.ID, 2, "Kho A", 0)
	require.NoError(t, err)

	claimed, err := svc.Claim(ctx, book.ID, inventory.StatusBorrowed)
	require.NoError(t, err)
	assert.Equal(t, copies[0].ID, claimed.ID)

	err = svc.DeleteCopy(ctx, claimed.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	reserved, err := svc.Claim(ctx, book.ID, inventory.StatusReserved)
	require.NoError(t, err)
	err = svc.DeleteCopy(ctx, reserved.ID)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	_, err = svc.Claim(ctx, book.ID, inventory.StatusBorrowed)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))

	got, _ := store.GetBook(ctx, book.ID)
	assert.Equal(t, 0, got.AvailableCopies)
	assert.Equal(t, catalog.StatusUnavailable, got.Status)

	_, err = svc.Transition(ctx, reserved.ID, inventory.StatusReserved, inventory.StatusAvailable)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteCopy(ctx, reserved.ID))

	got, _ = store.GetBook(ctx, book.ID)
	assert.Equal(t, 1, got.TotalCopies)
	assert.Equal(t, 0, got.AvailableCopies)
}

func TestTransitionRequiresExpectedStatus(t *testing.T) {
	svc, _, book := newService(t)
	ctx := context.Background()

	c, err := svc.CreateCopy(ctx, book.ID, CopyInput{})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, c.ID, inventory.StatusBorrowed, inventory.StatusAvailable)
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeConflict))
}

func TestMaintenanceQueries(t *testing.T) {
	svc, _, book := newService(t)
	ctx := context.Background()

	copies, err := svc.CreateCopies(ctx, book.ID, 3, "", 0)
	require.NoError(t, err)

	poor := inventory.ConditionPoor
	_, err = svc.UpdateCopy(ctx, copies[0].ID, CopyUpdate{Condition: &poor})
	require.NoError(t, err)

	damaged, err := svc.MarkDamaged(ctx, copies[1].ID, "torn cover")
	require.NoError(t, err)
	assert.Equal(t, inventory.ConditionDamaged, damaged.Condition)
	assert.Equal(t, inventory.StatusRepairing, damaged.Status)
	assert.True(t, strings.HasPrefix(damaged.Notes, "Damaged on return ("))
	assert.True(t, strings.HasSuffix(damaged.Notes, "): torn cover"))

	needing, err := svc.NeedingMaintenance(ctx)
	require.NoError(t, err)
	assert.Len(t, needing, 2)

	repairing, err := svc.ListByStatus(ctx, inventory.StatusRepairing)
	require.NoError(t, err)
	assert.Len(t, repairing, 1)

	_, err = svc.ListByStatus(ctx, "GONE")
	assert.True(t, svcerrors.HasCode(err, svcerrors.CodeInvalidInput))

	n, err := svc.CountAvailable(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lost := inventory.StatusLost
	_, err = svc.SetStatus(ctx, copies[2].ID, lost)
	require.NoError(t, err)
	n, _ = svc.CountAvailable(ctx, book.ID)
	assert.Equal(t, 1, n)
}
