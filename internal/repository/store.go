package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kkkkikiki/leadpool/internal/model"
)

var (
	// ErrNotFound is returned when a keyed record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a conditional write lost against a concurrent change
	ErrConflict = errors.New("record changed concurrently")
	// ErrPoolExhausted is returned by AssignBatch when every batch is referenced
	ErrPoolExhausted = errors.New("no unassigned batch available")
)

// AssignRequest describes an atomic batch assignment.
//
// ExpectedCount is the redemption count the caller observed; the store
// rejects the assignment with ErrConflict when the identity's record no
// longer has that count.
type AssignRequest struct {
	Identity      string
	ExpectedCount int
	At            time.Time
}

// Store is the persistence boundary for every named collection.
// Implementations must make AssignBatch, ToggleMark and AppendUploads
// atomic with respect to each other.
type Store interface {
	IsWhitelisted(ctx context.Context, identity string) (bool, error)
	ListWhitelist(ctx context.Context) ([]string, error)
	ReplaceWhitelist(ctx context.Context, identities []string) error
	RemoveFromWhitelist(ctx context.Context, identity string) error

	GetStatus(ctx context.Context, identity string) (*model.IdentityStatus, error)
	ListStatuses(ctx context.Context) ([]model.IdentityStatus, error)
	DeleteStatus(ctx context.Context, identity string) (bool, error)
	AssignBatch(ctx context.Context, req AssignRequest) (*model.IdentityStatus, *model.Batch, error)

	ListBatches(ctx context.Context) ([]model.Batch, error)
	ReplaceBatches(ctx context.Context, batches [][]string) error

	// AppendUploads writes all entries or none; ErrConflict if any
	// (identity, phone) pair is already logged.
	AppendUploads(ctx context.Context, entries []model.UploadEntry) error
	// ListUploads returns one identity's log, or every log when identity is empty
	ListUploads(ctx context.Context, identity string) ([]model.UploadEntry, error)

	// ToggleMark flips the claimed flag and mirrors it into the blacklist.
	// Claiming adds the phone unless it is already listed; unclaiming
	// removes only an entry the claim itself added.
	ToggleMark(ctx context.Context, phone string, at time.Time) (bool, error)
	ListMarks(ctx context.Context) (map[string]bool, error)

	// AddToBlacklist lists phones permanently; a later unclaim no longer removes them
	AddToBlacklist(ctx context.Context, phones []string) error
	ListBlacklist(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
