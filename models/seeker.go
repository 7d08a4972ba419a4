package models

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// SeekerAttributes are the profile fields the compatibility scorer reads.
// They are supplied read-only by the surrounding app at search start.
type SeekerAttributes struct {
	Institution string   `dynamodbav:"institution,omitempty" json:"institution,omitempty"`
	Branch      string   `dynamodbav:"branch,omitempty" json:"branch,omitempty"`
	Interests   []string `dynamodbav:"interests,omitempty" json:"interests,omitempty"`
	Reputation  float64  `dynamodbav:"reputation" json:"reputation"`
	Banned      bool     `dynamodbav:"banned" json:"banned"`
}

// SeekerRecord is one user's live entry in the presence registry.
// At most one non-terminal record exists per userId; the matchmaker deletes
// stale records for its own user before publishing a new one.
type SeekerRecord struct {
	RecordID   string           `dynamodbav:"recordId" json:"recordId"`
	UserID     string           `dynamodbav:"userId" json:"userId"`
	Mode       string           `dynamodbav:"mode" json:"mode"`
	Attributes SeekerAttributes `dynamodbav:"attributes" json:"attributes"`
	Status     string           `dynamodbav:"status" json:"status"` // searching | matched | disconnected
	CreatedAt  time.Time        `dynamodbav:"createdAt" json:"createdAt"`

	// Populated only while Status == matched.
	MatchedWith           string            `dynamodbav:"matchedWith,omitempty" json:"matchedWith,omitempty"`
	MatchedWithAttributes *SeekerAttributes `dynamodbav:"matchedWithAttributes,omitempty" json:"matchedWithAttributes,omitempty"`
	PartnerRecordID       string            `dynamodbav:"partnerRecordId,omitempty" json:"partnerRecordId,omitempty"`
	CallID                string            `dynamodbav:"callId,omitempty" json:"callId,omitempty"`
}

// SeekersTable is the DynamoDB table name for live seeker records
const SeekersTable = "Seekers"

// Validate checks a record read back from the registry. Records from the
// shared store are not trusted: malformed ones are skipped by the scan.
func (r *SeekerRecord) Validate() error {
	if r.RecordID == "" {
		return errors.New("seeker record missing recordId")
	}
	if r.UserID == "" {
		return errors.New("seeker record missing userId")
	}
	if !IsKnownMode(r.Mode) {
		return errors.New("seeker record has unknown mode: " + r.Mode)
	}
	switch r.Status {
	case StatusSearching, StatusMatched, StatusDisconnected:
	default:
		return errors.New("seeker record has unknown status: " + r.Status)
	}
	if r.Status == StatusMatched && (r.MatchedWith == "" || r.CallID == "") {
		return errors.New("matched seeker record missing pairing fields")
	}
	return nil
}

// SearchAge returns how long the record has been searching.
func (r *SeekerRecord) SearchAge(now time.Time) time.Duration {
	if r.CreatedAt.IsZero() || now.Before(r.CreatedAt) {
		return 0
	}
	return now.Sub(r.CreatedAt)
}

// DeriveCallID builds the shared call id from the two record ids. Both sides
// derive the same id independently (sorted and joined), so a disconnected
// peer's late messages are ignored by id mismatch without a third write.
func DeriveCallID(recordA, recordB string) string {
	ids := []string{recordA, recordB}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}

// Pairing carries the joint fields written onto both halves of a match.
type Pairing struct {
	MatchedWith           string
	MatchedWithAttributes SeekerAttributes
	PartnerRecordID       string
	CallID                string
}
