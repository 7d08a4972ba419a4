package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"campuslink_server/models"
	"campuslink_server/utils"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// DynamoRegistry is the DynamoDB-backed presence registry.
type DynamoRegistry struct {
	Dynamo *DynamoService
}

func seekerKey(recordID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"recordId": &types.AttributeValueMemberS{Value: recordID},
	}
}

// CreateSeeker publishes a new searching record and returns its record id.
func (r *DynamoRegistry) CreateSeeker(ctx context.Context, record models.SeekerRecord) (string, error) {
	record.RecordID = uuid.NewString()
	record.Status = models.StatusSearching
	record.CreatedAt = time.Now().UTC()

	if err := r.Dynamo.PutItem(ctx, models.SeekersTable, record); err != nil {
		log.Printf("❌ Failed to publish seeker record for %s: %v", record.UserID, err)
		return "", fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	log.Printf("✅ Published seeker record %s for user %s (mode=%s)", record.RecordID, record.UserID, record.Mode)
	return record.RecordID, nil
}

// GetSeeker reads one record by id.
func (r *DynamoRegistry) GetSeeker(ctx context.Context, recordID string) (models.SeekerRecord, error) {
	item, err := r.Dynamo.GetItem(ctx, models.SeekersTable, seekerKey(recordID))
	if err != nil {
		if strings.Contains(err.Error(), "item not found") {
			return models.SeekerRecord{}, ErrSeekerNotFound
		}
		return models.SeekerRecord{}, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	var record models.SeekerRecord
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return models.SeekerRecord{}, fmt.Errorf("failed to unmarshal seeker record: %w", err)
	}
	if err := record.Validate(); err != nil {
		return models.SeekerRecord{}, fmt.Errorf("malformed seeker record %s: %w", recordID, err)
	}
	return record, nil
}

// ListSearching scans for searching records in the same mode, excluding the
// seeker itself and banned identities.
func (r *DynamoRegistry) ListSearching(ctx context.Context, mode, excludeUserID string) ([]models.SeekerRecord, error) {
	var records []models.SeekerRecord
	err := r.Dynamo.ScanWithFilter(ctx, models.SeekersTable, func(item map[string]types.AttributeValue) bool {
		// Defensive reads: shared-store items are not trusted to be well formed.
		if utils.ExtractBool(item, "banned") {
			return false
		}
		if attrs, ok := item["attributes"].(*types.AttributeValueMemberM); ok {
			if utils.ExtractBool(attrs.Value, "banned") {
				return false
			}
		}
		return utils.ExtractString(item, "userId") != excludeUserID
	}, map[string]string{
		"status": models.StatusSearching,
		"mode":   mode,
	}, map[string]string{
		"userId": excludeUserID,
	}, &records)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	valid := records[:0]
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			log.Printf("⚠️ Skipping malformed seeker record: %v", err)
			continue
		}
		valid = append(valid, rec)
	}
	return valid, nil
}

// ClaimSeeker atomically flips a searching record to matched. The condition
// on status is the whole pairing race: losing it means someone else claimed
// the record first.
func (r *DynamoRegistry) ClaimSeeker(ctx context.Context, recordID string, pairing models.Pairing) error {
	attrs, err := attributevalue.Marshal(pairing.MatchedWithAttributes)
	if err != nil {
		return fmt.Errorf("failed to marshal pairing attributes: %w", err)
	}

	err = r.Dynamo.UpdateItemConditional(ctx, models.SeekersTable, seekerKey(recordID),
		"SET #status = :matched, matchedWith = :with, matchedWithAttributes = :attrs, partnerRecordId = :partner, callId = :call",
		"#status = :searching",
		map[string]types.AttributeValue{
			":matched":   &types.AttributeValueMemberS{Value: models.StatusMatched},
			":searching": &types.AttributeValueMemberS{Value: models.StatusSearching},
			":with":      &types.AttributeValueMemberS{Value: pairing.MatchedWith},
			":attrs":     attrs,
			":partner":   &types.AttributeValueMemberS{Value: pairing.PartnerRecordID},
			":call":      &types.AttributeValueMemberS{Value: pairing.CallID},
		},
		map[string]string{"#status": "status"},
	)
	if errors.Is(err, ErrConditionFailed) {
		return ErrPairConflict
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// ReleaseSeeker reverts a claimed record back to searching if it is still
// matched to us. Clears the pairing fields.
func (r *DynamoRegistry) ReleaseSeeker(ctx context.Context, recordID, matchedWith string) error {
	err := r.Dynamo.UpdateItemConditional(ctx, models.SeekersTable, seekerKey(recordID),
		"SET #status = :searching REMOVE matchedWith, matchedWithAttributes, partnerRecordId, callId",
		"#status = :matched AND matchedWith = :with",
		map[string]types.AttributeValue{
			":searching": &types.AttributeValueMemberS{Value: models.StatusSearching},
			":matched":   &types.AttributeValueMemberS{Value: models.StatusMatched},
			":with":      &types.AttributeValueMemberS{Value: matchedWith},
		},
		map[string]string{"#status": "status"},
	)
	if errors.Is(err, ErrConditionFailed) {
		// Record moved on; nothing to release.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// MarkDisconnected flips a record into the terminal disconnected status.
func (r *DynamoRegistry) MarkDisconnected(ctx context.Context, recordID string) error {
	err := r.Dynamo.UpdateItemConditional(ctx, models.SeekersTable, seekerKey(recordID),
		"SET #status = :disconnected",
		"",
		map[string]types.AttributeValue{
			":disconnected": &types.AttributeValueMemberS{Value: models.StatusDisconnected},
		},
		map[string]string{"#status": "status"},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// DeleteSeeker removes one record.
func (r *DynamoRegistry) DeleteSeeker(ctx context.Context, recordID string) error {
	if err := r.Dynamo.DeleteItem(ctx, models.SeekersTable, seekerKey(recordID)); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	return nil
}

// DeleteSeekersByUser removes every record belonging to userID.
func (r *DynamoRegistry) DeleteSeekersByUser(ctx context.Context, userID string) error {
	var stale []models.SeekerRecord
	err := r.Dynamo.ScanWithFilter(ctx, models.SeekersTable, nil,
		map[string]string{"userId": userID}, nil, &stale)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}

	for _, rec := range stale {
		if rec.RecordID == "" {
			continue
		}
		if err := r.DeleteSeeker(ctx, rec.RecordID); err != nil {
			log.Printf("⚠️ Failed to delete stale seeker record %s: %v", rec.RecordID, err)
		}
	}
	return nil
}
