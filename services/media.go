package services

import (
	"context"

	"campuslink_server/models"
)

// TransportState mirrors the underlying peer-connection state. Values match
// the lowercase names the WebRTC stack reports.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// MediaTransport is the direct media connection being negotiated. The rtc
// package provides the WebRTC implementation; tests use a fake.
type MediaTransport interface {
	CreateOffer(ctx context.Context) (models.SessionDescription, error)
	CreateAnswer(ctx context.Context) (models.SessionDescription, error)
	SetLocalDescription(desc models.SessionDescription) error
	SetRemoteDescription(desc models.SessionDescription) error
	AddRemoteCandidate(candidate models.IceCandidate) error

	// OnLocalCandidate registers the sink for locally generated candidates.
	// Must be registered before descriptions are exchanged.
	OnLocalCandidate(fn func(models.IceCandidate))

	// OnStateChange registers the connectivity observer.
	OnStateChange(fn func(TransportState))

	// OnRemoteTrack fires when the first inbound media arrives; the call is
	// considered live from then on.
	OnRemoteTrack(fn func())

	Close() error
}

// TransportFactory builds a fresh MediaTransport for each negotiation. The
// factory closes over the session's LocalMedia, which is attached to
// successive transports across skips but never shared by two at once.
type TransportFactory func() (MediaTransport, error)

// LocalMedia is the exclusively owned camera/microphone handle. It outlives
// individual calls and is released only on full session stop.
type LocalMedia interface {
	Close() error
}
