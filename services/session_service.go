package services

import (
	"context"
	"errors"
	"log"
	"sync"

	"campuslink_server/models"
)

// Session states.
const (
	SessionSearching = "SEARCHING"
	SessionInCall    = "IN_CALL"
	SessionEnded     = "ENDED"
)

// Session lifecycle events pushed through the event sink.
const (
	EventSessionState = "session:state"
	EventMatched      = "session:matched"
	EventError        = "session:error"
	EventConnected    = "call:connected"
	EventCallEnded    = "call:ended"
)

// EventSink receives session lifecycle events for the surrounding UI.
type EventSink interface {
	Publish(event string, payload interface{})
}

// SessionIdentity is the authenticated identity and read-only attribute bag
// supplied by the surrounding app.
type SessionIdentity struct {
	UserID     string                  `json:"userId"`
	Mode       string                  `json:"mode"`
	Attributes models.SeekerAttributes `json:"attributes"`
}

// Validate rejects identities this core cannot search with.
func (id SessionIdentity) Validate() error {
	if id.UserID == "" {
		return errors.New("userId is required")
	}
	if !models.IsKnownMode(id.Mode) {
		return errors.New("unknown mode: " + id.Mode)
	}
	return nil
}

// SessionConfig bundles the tunables for the two owned components.
type SessionConfig struct {
	Matchmaker MatchmakerConfig
	Negotiator NegotiatorConfig
}

// SessionStatus is the snapshot reported by the status endpoint.
type SessionStatus struct {
	State      string  `json:"state"`
	SearchAge  float64 `json:"searchAgeSeconds"`
	CallID     string  `json:"callId,omitempty"`
	PeerUserID string  `json:"peerUserId,omitempty"`
	Role       string  `json:"role,omitempty"`
	Connected  bool    `json:"connected"`
}

// SessionService is the top-level state machine: SEARCHING → IN_CALL →
// (SEARCHING | ENDED). It sequences matchmaker → negotiator → teardown,
// handles next/skip and stop, and routes every abandonment signal (peer
// vanished, transport failed, never connected) through the same path as a
// local skip. ENDED is terminal; a new instance is built to search again.
type SessionService struct {
	registry SeekerRegistry
	relay    SignalRelay
	factory  TransportFactory
	media    LocalMedia
	events   EventSink
	identity SessionIdentity
	cfg      SessionConfig

	mu         sync.Mutex
	state      string
	generation int
	matchmaker *Matchmaker
	negotiator *Negotiator
	current    *MatchResult
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewSessionService(registry SeekerRegistry, relay SignalRelay, factory TransportFactory, media LocalMedia, events EventSink, identity SessionIdentity, cfg SessionConfig) *SessionService {
	return &SessionService{
		registry: registry,
		relay:    relay,
		factory:  factory,
		media:    media,
		events:   events,
		identity: identity,
		cfg:      cfg,
	}
}

// Start enters SEARCHING and begins the first matchmaking cycle.
func (s *SessionService) Start(ctx context.Context) error {
	if err := s.identity.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != "" {
		s.mu.Unlock()
		return errors.New("session already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = SessionSearching
	s.mu.Unlock()

	s.publish(EventSessionState, map[string]string{"state": SessionSearching})
	return s.startCycle()
}

// startCycle publishes a fresh seeker record and begins scanning. Each cycle
// gets a generation number so stale callbacks from a torn-down cycle are
// ignored.
func (s *SessionService) startCycle() error {
	s.mu.Lock()
	if s.state == SessionEnded {
		s.mu.Unlock()
		return errors.New("session has ended")
	}
	s.generation++
	gen := s.generation
	matchmaker := NewMatchmaker(s.registry, s.identity.UserID, s.identity.Mode, s.identity.Attributes, s.cfg.Matchmaker)
	s.matchmaker = matchmaker
	s.state = SessionSearching
	s.current = nil
	ctx := s.ctx
	s.mu.Unlock()

	matchmaker.OnMatched(func(result MatchResult) { s.handleMatched(gen, result) })
	matchmaker.OnLost(func(reason string) { s.handleAbandon(gen, reason) })
	matchmaker.OnStalled(func(err error) {
		s.publish(EventError, map[string]string{"error": "registry unreachable, still retrying: " + err.Error()})
	})

	if err := matchmaker.Start(ctx); err != nil {
		s.publish(EventError, map[string]string{"error": err.Error()})
		return err
	}
	return nil
}

// handleMatched transitions to IN_CALL and starts a fresh negotiator with
// the role the pairing handshake assigned.
func (s *SessionService) handleMatched(gen int, result MatchResult) {
	s.mu.Lock()
	if gen != s.generation || s.state != SessionSearching {
		s.mu.Unlock()
		return
	}

	transport, err := s.factory()
	if err != nil {
		s.mu.Unlock()
		log.Printf("❌ Transport setup failed: %v", err)
		s.publish(EventError, map[string]string{"error": "transport setup failed: " + err.Error()})
		s.handleAbandon(gen, "transport setup failed")
		return
	}

	negotiator := NewNegotiator(s.relay, transport, result.CallID, result.Role, s.identity.UserID, result.PeerUserID, s.cfg.Negotiator)
	s.negotiator = negotiator
	res := result
	s.current = &res
	s.state = SessionInCall
	ctx := s.ctx
	s.mu.Unlock()

	negotiator.OnConnected(func() {
		s.publish(EventConnected, map[string]string{"callId": result.CallID, "peerUserId": result.PeerUserID})
	})
	negotiator.OnDisconnect(func(reason string) { s.handleAbandon(gen, reason) })

	s.publish(EventMatched, map[string]interface{}{
		"callId":     result.CallID,
		"peerUserId": result.PeerUserID,
		"role":       result.Role,
		"peer":       result.PeerAttributes,
	})
	s.publish(EventSessionState, map[string]string{"state": SessionInCall})

	if err := negotiator.Start(ctx); err != nil {
		log.Printf("❌ Negotiation start failed: %v", err)
		s.handleAbandon(gen, "negotiation start failed")
	}
}

// handleAbandon is the shared peer-vanished / transport-failed path. It is
// handled identically to a local skip: full teardown, then immediate
// re-entry into SEARCHING.
func (s *SessionService) handleAbandon(gen int, reason string) {
	s.mu.Lock()
	if gen != s.generation || s.state == SessionEnded {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	log.Printf("ℹ️ Session abandoning current cycle: %s", reason)
	s.publish(EventCallEnded, map[string]string{"reason": reason})
	s.teardownCycle()
	if err := s.startCycle(); err != nil {
		log.Printf("❌ Failed to re-enter search: %v", err)
	}
}

// Next skips the current peer: tear down the call and registry records, then
// return to SEARCHING with a freshly generated seeker record. Local media
// stays live; only the remote peer is swapped.
func (s *SessionService) Next() error {
	s.mu.Lock()
	if s.state == SessionEnded {
		s.mu.Unlock()
		return errors.New("session has ended")
	}
	s.mu.Unlock()

	s.publish(EventCallEnded, map[string]string{"reason": "skip"})
	s.teardownCycle()
	return s.startCycle()
}

// Stop tears everything down and transitions to the terminal ENDED state,
// releasing the local camera/microphone handle.
func (s *SessionService) Stop() error {
	s.mu.Lock()
	if s.state == SessionEnded {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.teardownCycle()

	s.mu.Lock()
	s.state = SessionEnded
	s.generation++ // invalidate any in-flight callbacks
	cancel := s.cancel
	media := s.media
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if media != nil {
		if err := media.Close(); err != nil {
			log.Printf("⚠️ Failed to release local media: %v", err)
		}
	}

	s.publish(EventSessionState, map[string]string{"state": SessionEnded})
	return nil
}

// teardownCycle stops the stream watchers, closes the transport, and issues
// best-effort cleanup writes without blocking on their completion. The local
// media handle is untouched; only Stop releases it.
func (s *SessionService) teardownCycle() {
	s.mu.Lock()
	negotiator := s.negotiator
	matchmaker := s.matchmaker
	current := s.current
	s.negotiator = nil
	s.matchmaker = nil
	s.current = nil
	s.mu.Unlock()

	if negotiator != nil {
		negotiator.Close()
	}
	if matchmaker != nil {
		go matchmaker.Cancel(context.Background())
	}
	if current != nil {
		callID := current.CallID
		relay := s.relay
		go func() {
			if err := relay.DeleteCall(context.Background(), callID); err != nil {
				log.Printf("⚠️ Failed to delete call %s: %v", callID, err)
			}
		}()
	}
}

// Status reports a snapshot for the status endpoint.
func (s *SessionService) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SessionStatus{State: s.state}
	if s.matchmaker != nil {
		status.SearchAge = s.matchmaker.SearchAge().Seconds()
	}
	if s.current != nil {
		status.CallID = s.current.CallID
		status.PeerUserID = s.current.PeerUserID
		status.Role = s.current.Role
	}
	if s.negotiator != nil {
		status.Connected = s.negotiator.Connected()
	}
	return status
}

// State returns the current session state.
func (s *SessionService) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SessionService) publish(event string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.Publish(event, payload)
}
