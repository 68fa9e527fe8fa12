// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/tabsplit/internal/models"
)

var (
	// ErrNotFound indicates the bill, item, participant or claim does not exist.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict indicates a concurrent writer changed the item between read
	// and write. The whole transaction was rolled back and may be retried.
	ErrConflict = errors.New("storage: concurrent modification")

	// ErrBillLocked indicates the bill was locked when the write ran.
	ErrBillLocked = errors.New("storage: bill is locked")
)

// MutateFunc decides the change to persist given the item's current state.
// Returning an error aborts the transaction and the error is returned as is
// from UpdateItem. Returning a nil change commits nothing.
type MutateFunc func(state *models.ItemState) (*models.ItemChange, error)

// Store defines the interface for bill and allocation storage.
// This abstraction allows swapping storage backends (SQLite, bbolt, etc.)
// without changing the allocation engine.
type Store interface {
	// CreateBill persists a bill together with its items and participants.
	// Missing IDs and CreatedAt are filled in by the store.
	CreateBill(ctx context.Context, bill *models.Bill) error

	// GetBill retrieves a bill with its items and participants.
	// Returns ErrNotFound if the bill does not exist.
	GetBill(ctx context.Context, billID string) (*models.Bill, error)

	// LockBill marks a bill as locked. Locking twice is not an error.
	LockBill(ctx context.Context, billID string) error

	// AddParticipant persists a new participant on an existing bill. It fails
	// with ErrBillLocked if the bill is locked when the write runs.
	AddParticipant(ctx context.Context, participant *models.Participant) error

	// GetParticipant retrieves a participant by ID.
	GetParticipant(ctx context.Context, participantID string) (*models.Participant, error)

	// FindClaim returns the item a claim belongs to.
	FindClaim(ctx context.Context, claimID string) (*models.Claim, error)

	// GetItemState reads one item's allocation state in a read transaction.
	GetItemState(ctx context.Context, itemID string) (*models.ItemState, error)

	// UpdateItem runs read → fn → write as one atomic transaction scoped to
	// the item. It returns ErrConflict when a concurrent writer won.
	UpdateItem(ctx context.Context, itemID string, fn MutateFunc) error

	// GetBillSnapshot reads a bill and all of its allocations in one read
	// transaction.
	GetBillSnapshot(ctx context.Context, billID string) (*models.BillSnapshot, error)

	// Close releases any resources held by the store.
	Close() error
}
