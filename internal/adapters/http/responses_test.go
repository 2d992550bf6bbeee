package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sapling/core/internal/domain/entities"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{entities.NewValidationError("bad"), http.StatusBadRequest},
		{entities.NewNotFoundError("missing %s", "task"), http.StatusNotFound},
		{fmt.Errorf("purchase: %w", entities.NewInsufficientFundsError(20, 10)), http.StatusConflict},
		{entities.NewUnavailableError("write", errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestToHTTPErrorHidesInternals(t *testing.T) {
	he := toHTTPError(entities.NewUnavailableError("write ledger", errors.New("dial tcp 10.0.0.1:5432")))
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)
	assert.NotContains(t, fmt.Sprint(he.Message), "10.0.0.1")

	he = toHTTPError(errors.New("pq: relation does not exist"))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), he.Message)

	he = toHTTPError(entities.NewNotFoundError("task %s not found", "t1"))
	assert.Equal(t, "task t1 not found", he.Message)
}
