package models

import "time"

// SessionDescription is one side's opaque media description (offer or answer).
type SessionDescription struct {
	Type string `dynamodbav:"type" json:"type"` // "offer" | "answer"
	SDP  string `dynamodbav:"sdp" json:"sdp"`
}

// IceCandidate is one possible network path for the direct media connection.
type IceCandidate struct {
	Candidate     string `dynamodbav:"candidate" json:"candidate"`
	SDPMid        string `dynamodbav:"sdpMid" json:"sdpMid"`
	SDPMLineIndex uint16 `dynamodbav:"sdpMLineIndex" json:"sdpMLineIndex"`
}

// CallSession is the signaling mailbox for one pairing, keyed by callId.
// The offer is written only by the caller, the answer only by the callee,
// so no field is ever written by both sides.
type CallSession struct {
	CallID    string              `dynamodbav:"callId" json:"callId"`
	CallerID  string              `dynamodbav:"callerId" json:"callerId"`
	CalleeID  string              `dynamodbav:"calleeId" json:"calleeId"`
	Offer     *SessionDescription `dynamodbav:"offer,omitempty" json:"offer,omitempty"`
	Answer    *SessionDescription `dynamodbav:"answer,omitempty" json:"answer,omitempty"`
	CreatedAt time.Time           `dynamodbav:"createdAt" json:"createdAt"`
}

// CandidateRecord is one appended entry of a role-scoped candidate stream.
// SortKey is role#seq (zero-padded) so a range query reads new entries only.
type CandidateRecord struct {
	CallID    string       `dynamodbav:"callId" json:"callId"`
	SortKey   string       `dynamodbav:"sk" json:"sk"`
	Role      string       `dynamodbav:"role" json:"role"`
	Seq       int          `dynamodbav:"seq" json:"seq"`
	Candidate IceCandidate `dynamodbav:"candidate" json:"candidate"`
}

// CallSessionsTable is the DynamoDB table name for call mailboxes
const CallSessionsTable = "CallSessions"

// CallCandidatesTable is the DynamoDB table name for candidate streams
const CallCandidatesTable = "CallCandidates"
