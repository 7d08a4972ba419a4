package services

import (
	"context"
	"errors"

	"campuslink_server/models"
)

var (
	// ErrRegistryUnavailable signals a transient store failure; callers retry
	// on their next cycle.
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrSeekerNotFound signals the record no longer exists (peer tore down,
	// or we were force-cleaned).
	ErrSeekerNotFound = errors.New("seeker record not found")

	// ErrPairConflict signals the candidate was claimed by someone else
	// between selection and write. Expected, non-exceptional.
	ErrPairConflict = errors.New("seeker already claimed")
)

// SeekerRegistry is the presence registry: one record per active seeker.
// Implementations: DynamoRegistry (shared store) and MemoryRegistry (local
// mode and tests).
type SeekerRegistry interface {
	// CreateSeeker publishes a new searching record and returns its record id.
	CreateSeeker(ctx context.Context, record models.SeekerRecord) (string, error)

	// GetSeeker reads one record; ErrSeekerNotFound when it is gone.
	GetSeeker(ctx context.Context, recordID string) (models.SeekerRecord, error)

	// ListSearching returns candidate records: status searching, same mode,
	// not the given user, not banned. Malformed records are skipped.
	ListSearching(ctx context.Context, mode, excludeUserID string) ([]models.SeekerRecord, error)

	// ClaimSeeker atomically flips a searching record to matched with the
	// pairing fields. ErrPairConflict when the record was no longer searching.
	ClaimSeeker(ctx context.Context, recordID string, pairing models.Pairing) error

	// ReleaseSeeker reverts a record we claimed back to searching, guarded on
	// it still being matched to matchedWith. Best-effort race cleanup.
	ReleaseSeeker(ctx context.Context, recordID, matchedWith string) error

	// MarkDisconnected flips a record to the terminal disconnected status.
	MarkDisconnected(ctx context.Context, recordID string) error

	// DeleteSeeker removes a record entirely.
	DeleteSeeker(ctx context.Context, recordID string) error

	// DeleteSeekersByUser removes every record for a user. Defensive cleanup
	// against a prior crashed session, run before publishing a new record.
	DeleteSeekersByUser(ctx context.Context, userID string) error
}
