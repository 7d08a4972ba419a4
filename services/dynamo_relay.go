package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"campuslink_server/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoRelay is the DynamoDB-backed signaling mailbox.
type DynamoRelay struct {
	Dynamo *DynamoService
}

func callKey(callID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"callId": &types.AttributeValueMemberS{Value: callID},
	}
}

// candidateSortKey builds the role-prefixed zero-padded sort key, giving each
// stream a total order that a BETWEEN range query can read incrementally.
func candidateSortKey(role string, seq int) string {
	return fmt.Sprintf("%s#%06d", role, seq)
}

// CreateCall writes the mailbox document, offer included.
func (r *DynamoRelay) CreateCall(ctx context.Context, session models.CallSession) error {
	session.CreatedAt = time.Now().UTC()
	if err := r.Dynamo.PutItem(ctx, models.CallSessionsTable, session); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	log.Printf("✅ Created call session %s", session.CallID)
	return nil
}

// GetCall reads the mailbox document.
func (r *DynamoRelay) GetCall(ctx context.Context, callID string) (models.CallSession, error) {
	item, err := r.Dynamo.GetItem(ctx, models.CallSessionsTable, callKey(callID))
	if err != nil {
		if strings.Contains(err.Error(), "item not found") {
			return models.CallSession{}, ErrCallNotFound
		}
		return models.CallSession{}, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	var session models.CallSession
	if err := attributevalue.UnmarshalMap(item, &session); err != nil {
		return models.CallSession{}, fmt.Errorf("failed to unmarshal call session: %w", err)
	}
	return session, nil
}

// SetAnswer writes the callee's answer onto the mailbox.
func (r *DynamoRelay) SetAnswer(ctx context.Context, callID string, answer models.SessionDescription) error {
	marshaled, err := attributevalue.Marshal(answer)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	err = r.Dynamo.UpdateItemConditional(ctx, models.CallSessionsTable, callKey(callID),
		"SET answer = :answer", "",
		map[string]types.AttributeValue{":answer": marshaled}, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// AddCandidate appends one candidate to the role's stream.
func (r *DynamoRelay) AddCandidate(ctx context.Context, callID, role string, seq int, candidate models.IceCandidate) error {
	record := models.CandidateRecord{
		CallID:    callID,
		SortKey:   candidateSortKey(role, seq),
		Role:      role,
		Seq:       seq,
		Candidate: candidate,
	}
	if err := r.Dynamo.PutItem(ctx, models.CallCandidatesTable, record); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// ListCandidates returns the role's candidates after afterSeq, ascending.
func (r *DynamoRelay) ListCandidates(ctx context.Context, callID, role string, afterSeq int) ([]models.CandidateRecord, error) {
	items, err := r.Dynamo.QueryRange(ctx, models.CallCandidatesTable,
		"callId", callID,
		"sk", candidateSortKey(role, afterSeq+1), candidateSortKey(role, 999999),
		100)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	var records []models.CandidateRecord
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidate records: %w", err)
	}
	return records, nil
}

// DeleteCall removes the mailbox and both candidate streams.
func (r *DynamoRelay) DeleteCall(ctx context.Context, callID string) error {
	if err := r.Dynamo.DeleteItem(ctx, models.CallSessionsTable, callKey(callID)); err != nil {
		log.Printf("⚠️ Failed to delete call session %s: %v", callID, err)
	}

	for _, role := range []string{models.RoleCaller, models.RoleCallee} {
		records, err := r.ListCandidates(ctx, callID, role, -1)
		if err != nil {
			continue
		}
		for _, record := range records {
			key := map[string]types.AttributeValue{
				"callId": &types.AttributeValueMemberS{Value: callID},
				"sk":     &types.AttributeValueMemberS{Value: record.SortKey},
			}
			if err := r.Dynamo.DeleteItem(ctx, models.CallCandidatesTable, key); err != nil {
				log.Printf("⚠️ Failed to delete candidate %s/%s: %v", callID, record.SortKey, err)
			}
		}
	}
	return nil
}
