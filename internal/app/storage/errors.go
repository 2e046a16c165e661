package storage

import (
	"errors"

	svcerrors "github.com/qltv/library_service/internal/errors"
)

// Translate maps store sentinels onto service errors for resource/id.
// Other errors pass through unchanged.
func Translate(err error, resource, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return svcerrors.NotFound(resource, id)
	case errors.Is(err, ErrConflict):
		return svcerrors.Conflict(resource + " conflicts with an existing record")
	default:
		return err
	}
}
