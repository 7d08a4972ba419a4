package services

import (
	"context"
	"sync"
	"time"

	"campuslink_server/models"

	"github.com/google/uuid"
)

// MemoryRegistry is an in-memory SeekerRegistry used for local mode and
// tests. Claims are compare-and-swap under one mutex, mirroring the
// conditional-update semantics of the DynamoDB backend.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]models.SeekerRecord
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{records: make(map[string]models.SeekerRecord)}
}

func (r *MemoryRegistry) CreateSeeker(ctx context.Context, record models.SeekerRecord) (string, error) {
	record.RecordID = uuid.NewString()
	record.Status = models.StatusSearching
	record.CreatedAt = time.Now().UTC()

	r.mu.Lock()
	r.records[record.RecordID] = record
	r.mu.Unlock()
	return record.RecordID, nil
}

func (r *MemoryRegistry) GetSeeker(ctx context.Context, recordID string) (models.SeekerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[recordID]
	if !ok {
		return models.SeekerRecord{}, ErrSeekerNotFound
	}
	return record, nil
}

func (r *MemoryRegistry) ListSearching(ctx context.Context, mode, excludeUserID string) ([]models.SeekerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.SeekerRecord
	for _, record := range r.records {
		if record.Status != models.StatusSearching || record.Mode != mode {
			continue
		}
		if record.UserID == excludeUserID || record.Attributes.Banned {
			continue
		}
		if err := record.Validate(); err != nil {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (r *MemoryRegistry) ClaimSeeker(ctx context.Context, recordID string, pairing models.Pairing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordID]
	if !ok || record.Status != models.StatusSearching {
		return ErrPairConflict
	}
	record.Status = models.StatusMatched
	record.MatchedWith = pairing.MatchedWith
	attrs := pairing.MatchedWithAttributes
	record.MatchedWithAttributes = &attrs
	record.PartnerRecordID = pairing.PartnerRecordID
	record.CallID = pairing.CallID
	r.records[recordID] = record
	return nil
}

func (r *MemoryRegistry) ReleaseSeeker(ctx context.Context, recordID, matchedWith string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordID]
	if !ok || record.Status != models.StatusMatched || record.MatchedWith != matchedWith {
		return nil
	}
	record.Status = models.StatusSearching
	record.MatchedWith = ""
	record.MatchedWithAttributes = nil
	record.PartnerRecordID = ""
	record.CallID = ""
	r.records[recordID] = record
	return nil
}

func (r *MemoryRegistry) MarkDisconnected(ctx context.Context, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[recordID]
	if !ok {
		return ErrSeekerNotFound
	}
	record.Status = models.StatusDisconnected
	r.records[recordID] = record
	return nil
}

func (r *MemoryRegistry) DeleteSeeker(ctx context.Context, recordID string) error {
	r.mu.Lock()
	delete(r.records, recordID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRegistry) DeleteSeekersByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, record := range r.records {
		if record.UserID == userID {
			delete(r.records, id)
		}
	}
	return nil
}

// Snapshot returns a copy of all records. Used by local-mode diagnostics.
func (r *MemoryRegistry) Snapshot() []models.SeekerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SeekerRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record)
	}
	return out
}
