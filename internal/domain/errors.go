package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrTransientStore      = errors.New("transient store error")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvalidRecipe       = errors.New("invalid recipe: output quantity must be positive")
)

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type Shortage struct {
	InventoryItemID string          `json:"inventory_item_id"`
	Name            string          `json:"name"`
	RequiredQty     decimal.Decimal `json:"required_qty"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
}

type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (need %s, have %s)", s.Name, s.RequiredQty.String(), s.CurrentStock.String()))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// TransientStoreError marks network and timeout failures. Whether the write
// was applied is unknown unless Unsent is set, which means the request never
// left the client.
type TransientStoreError struct {
	Op     string
	Unsent bool
	Err    error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: transient store error: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func (e *TransientStoreError) Is(target error) bool { return target == ErrTransientStore }

type ConcurrencyConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: concurrency conflict after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: concurrency conflict: %v", e.Op, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error { return e.Err }

func (e *ConcurrencyConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }
