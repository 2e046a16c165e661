package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetServiceErrorUnwrapsChain(t *testing.T) {
	base := NotFound("book", "7")
	wrapped := fmt.Errorf("load book: %w", base)

	svcErr := GetServiceError(wrapped)
	require.NotNil(t, svcErr)
	assert.Equal(t, CodeNotFound, svcErr.Code)
	assert.Equal(t, http.StatusNotFound, svcErr.HTTPStatus)
	assert.Equal(t, "book", svcErr.Details["resource"])
	assert.True(t, HasCode(wrapped, CodeNotFound))
	assert.Nil(t, GetServiceError(fmt.Errorf("plain")))
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := Conflict("copy is on loan")
	withID := base.WithDetails("copy_id", "3")

	assert.Empty(t, base.Details)
	assert.Equal(t, "3", withID.Details["copy_id"])
}

func TestIsComparesCodes(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Forbidden("inactive"))
	assert.True(t, Is(err, &ServiceError{Code: CodeForbidden}))
	assert.False(t, Is(err, &ServiceError{Code: CodeNotFound}))
}

func TestRateLimitDetails(t *testing.T) {
	err := RateLimitExceeded(20, "1s")
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus)
	assert.Equal(t, 20, err.Details["limit"])
}
