package models

import (
	"errors"
	"fmt"
)

// Ledger and reconciliation failures are terminal for the attempt; callers
// route them to review instead of retrying (a retry would re-derive the same
// result unless quantities changed).
var (
	ErrItemNotFound        = errors.New("inventory item not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrConcurrencyConflict = errors.New("concurrent modification, try again")
	ErrBusy                = errors.New("busy")
)

// InsufficientStockError names the first item whose balance fell short, so a
// reviewer can adjust quantities or backorder.
type InsufficientStockError struct {
	ItemId    int
	SKU       string
	Requested string
	Available string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d (%s): requested %s, available %s",
		e.ItemId, e.SKU, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
