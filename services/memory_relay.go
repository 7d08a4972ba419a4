package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"campuslink_server/models"
)

// MemoryRelay is an in-memory SignalRelay for local mode and tests.
type MemoryRelay struct {
	mu         sync.Mutex
	sessions   map[string]models.CallSession
	candidates map[string][]models.CandidateRecord // keyed by callId
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		sessions:   make(map[string]models.CallSession),
		candidates: make(map[string][]models.CandidateRecord),
	}
}

func (r *MemoryRelay) CreateCall(ctx context.Context, session models.CallSession) error {
	session.CreatedAt = time.Now().UTC()
	r.mu.Lock()
	r.sessions[session.CallID] = session
	r.mu.Unlock()
	return nil
}

func (r *MemoryRelay) GetCall(ctx context.Context, callID string) (models.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[callID]
	if !ok {
		return models.CallSession{}, ErrCallNotFound
	}
	return session, nil
}

func (r *MemoryRelay) SetAnswer(ctx context.Context, callID string, answer models.SessionDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[callID]
	if !ok {
		// Late write to a torn-down call; tolerated and ignored.
		return nil
	}
	session.Answer = &answer
	r.sessions[callID] = session
	return nil
}

func (r *MemoryRelay) AddCandidate(ctx context.Context, callID, role string, seq int, candidate models.IceCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates[callID] = append(r.candidates[callID], models.CandidateRecord{
		CallID:    callID,
		SortKey:   candidateSortKey(role, seq),
		Role:      role,
		Seq:       seq,
		Candidate: candidate,
	})
	return nil
}

func (r *MemoryRelay) ListCandidates(ctx context.Context, callID, role string, afterSeq int) ([]models.CandidateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.CandidateRecord
	for _, record := range r.candidates[callID] {
		if record.Role == role && record.Seq > afterSeq {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *MemoryRelay) DeleteCall(ctx context.Context, callID string) error {
	r.mu.Lock()
	delete(r.sessions, callID)
	delete(r.candidates, callID)
	r.mu.Unlock()
	return nil
}

// SessionCount returns the number of live call sessions. Used by tests and
// local-mode diagnostics.
func (r *MemoryRelay) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
