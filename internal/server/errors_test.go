package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/iety/internal/cost"
	"github.com/jonathan/iety/internal/embedding"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "q", Message: "is required"}
	assert.Equal(t, "validation error: q - is required", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestErrNotFound(t *testing.T) {
	err := &ErrNotFound{What: "entity"}
	assert.Equal(t, "entity not found", err.Error())
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	budget := &cost.BudgetExceededError{
		CurrentSpend: decimal.NewFromInt(48),
		BudgetLimit:  decimal.NewFromInt(50),
		PercentUsed:  0.96,
	}

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "validation", err: &ErrValidation{Field: "type"}, expected: http.StatusBadRequest},
		{name: "wrapped validation", err: fmt.Errorf("search: %w", &ErrValidation{Field: "type"}), expected: http.StatusBadRequest},
		{name: "not found", err: &ErrNotFound{What: "entity"}, expected: http.StatusNotFound},
		{name: "budget halted", err: fmt.Errorf("vector search failed: %w", budget), expected: http.StatusServiceUnavailable},
		{name: "provider disabled", err: fmt.Errorf("embed: %w", embedding.ErrProviderDisabled), expected: http.StatusServiceUnavailable},
		{name: "unknown", err: fmt.Errorf("connection reset"), expected: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
		})
	}
}
