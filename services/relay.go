package services

import (
	"context"
	"errors"

	"campuslink_server/models"
)

// ErrCallNotFound signals the call mailbox is gone (peer tore down first).
// Late reads and writes against a deleted call are tolerated by both ends.
var ErrCallNotFound = errors.New("call session not found")

// SignalRelay is the signaling mailbox per call id: one offer written by the
// caller, one answer written by the callee, and two append-only candidate
// streams partitioned by role. No field is ever written by both sides.
type SignalRelay interface {
	// CreateCall creates the mailbox; the caller invokes this with its offer.
	CreateCall(ctx context.Context, session models.CallSession) error

	// GetCall reads the mailbox; ErrCallNotFound when it does not exist.
	GetCall(ctx context.Context, callID string) (models.CallSession, error)

	// SetAnswer writes the callee's answer. Only valid after the offer exists.
	SetAnswer(ctx context.Context, callID string, answer models.SessionDescription) error

	// AddCandidate appends one candidate to the role's stream at seq.
	AddCandidate(ctx context.Context, callID, role string, seq int, candidate models.IceCandidate) error

	// ListCandidates returns the role's candidates with Seq > afterSeq, in
	// ascending order.
	ListCandidates(ctx context.Context, callID, role string, afterSeq int) ([]models.CandidateRecord, error)

	// DeleteCall removes the mailbox and both candidate streams. Best-effort;
	// whichever side tears down first wins.
	DeleteCall(ctx context.Context, callID string) error
}
