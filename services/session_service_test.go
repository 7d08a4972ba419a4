package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"campuslink_server/models"
)

type fakeMedia struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeMedia) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSink struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeSink) Publish(event string, payload interface{}) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeSink) has(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

func testSessionConfig() SessionConfig {
	return SessionConfig{
		Matchmaker: MatchmakerConfig{
			ScanInterval:  15 * time.Millisecond,
			WatchInterval: 10 * time.Millisecond,
			Thresholds:    []ScoreThreshold{{After: 0, MinScore: 1}},
			GraceDelay:    -1,
		},
		Negotiator: NegotiatorConfig{PollInterval: 10 * time.Millisecond},
	}
}

func connectingFactory() TransportFactory {
	return func() (MediaTransport, error) {
		return &fakeTransport{emitOnLocal: true, autoConnect: true}, nil
	}
}

func newTestSession(registry SeekerRegistry, relay SignalRelay, media LocalMedia, sink EventSink, userID string, attrs models.SeekerAttributes) *SessionService {
	identity := SessionIdentity{UserID: userID, Mode: models.ModeRandom, Attributes: attrs}
	return NewSessionService(registry, relay, connectingFactory(), media, sink, identity, testSessionConfig())
}

func TestSessionRejectsInvalidIdentity(t *testing.T) {
	session := NewSessionService(NewMemoryRegistry(), NewMemoryRelay(), connectingFactory(), nil, nil,
		SessionIdentity{UserID: "", Mode: models.ModeRandom}, testSessionConfig())
	if err := session.Start(context.Background()); err == nil {
		t.Fatal("expected missing userId to be rejected")
	}

	session = NewSessionService(NewMemoryRegistry(), NewMemoryRelay(), connectingFactory(), nil, nil,
		SessionIdentity{UserID: "alice", Mode: "SPEED"}, testSessionConfig())
	if err := session.Start(context.Background()); err == nil {
		t.Fatal("expected unknown mode to be rejected")
	}
}

func TestSkipPreservesLocalMedia(t *testing.T) {
	registry := NewMemoryRegistry()
	media := &fakeMedia{}
	sink := &fakeSink{}

	session := newTestSession(registry, NewMemoryRelay(), media, sink, "alice", models.SeekerAttributes{Interests: []string{"coding"}})
	if err := session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if session.State() != SessionSearching {
		t.Fatalf("expected SEARCHING, got %s", session.State())
	}

	// Skip with nobody matched: the session re-enters search and local media
	// stays live.
	if err := session.Next(); err != nil {
		t.Fatal(err)
	}
	if session.State() != SessionSearching {
		t.Fatalf("expected SEARCHING after skip, got %s", session.State())
	}
	if media.isClosed() {
		t.Fatal("skip must not release local media")
	}

	// Stop is the only transition that releases the camera.
	if err := session.Stop(); err != nil {
		t.Fatal(err)
	}
	if session.State() != SessionEnded {
		t.Fatalf("expected ENDED, got %s", session.State())
	}
	if !media.isClosed() {
		t.Fatal("stop must release local media")
	}

	// ENDED is terminal.
	if err := session.Next(); err == nil {
		t.Fatal("skip after stop must fail")
	}
	if err := session.Stop(); err != nil {
		t.Fatal("repeated stop should be a no-op")
	}
}

func TestTwoSessionsPairAndConnect(t *testing.T) {
	registry := NewMemoryRegistry()
	relay := NewMemoryRelay()
	aliceMedia, bobMedia := &fakeMedia{}, &fakeMedia{}
	aliceSink, bobSink := &fakeSink{}, &fakeSink{}

	alice := newTestSession(registry, relay, aliceMedia, aliceSink, "alice",
		models.SeekerAttributes{Interests: []string{"coding", "startups"}, Reputation: 100})
	bob := newTestSession(registry, relay, bobMedia, bobSink, "bob",
		models.SeekerAttributes{Interests: []string{"coding", "music"}, Reputation: 110})

	if err := alice.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer alice.Stop()
	if err := bob.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer bob.Stop()

	waitFor(t, 5*time.Second, "both sessions in a connected call", func() bool {
		a, b := alice.Status(), bob.Status()
		return a.State == SessionInCall && b.State == SessionInCall && a.Connected && b.Connected
	})

	a, b := alice.Status(), bob.Status()
	if a.CallID == "" || a.CallID != b.CallID {
		t.Fatalf("call IDs must agree: %q vs %q", a.CallID, b.CallID)
	}
	// One pairing produces exactly one mailbox.
	if n := relay.SessionCount(); n != 1 {
		t.Fatalf("expected exactly one call session, got %d", n)
	}
	if a.PeerUserID != "bob" || b.PeerUserID != "alice" {
		t.Fatalf("peer identities wrong: %q / %q", a.PeerUserID, b.PeerUserID)
	}
	// The lexicographically lower user initiated, so alice is the caller.
	if a.Role != models.RoleCaller || b.Role != models.RoleCallee {
		t.Fatalf("expected alice caller / bob callee, got %s / %s", a.Role, b.Role)
	}
	if !aliceSink.has(EventMatched) || !aliceSink.has(EventConnected) {
		t.Fatal("alice's sink should have seen matched and connected events")
	}
	if !bobSink.has(EventMatched) || !bobSink.has(EventConnected) {
		t.Fatal("bob's sink should have seen matched and connected events")
	}
}

func TestPeerStopSendsOtherBackToSearch(t *testing.T) {
	registry := NewMemoryRegistry()
	relay := NewMemoryRelay()
	aliceSink := &fakeSink{}

	alice := newTestSession(registry, relay, &fakeMedia{}, aliceSink, "alice",
		models.SeekerAttributes{Interests: []string{"coding"}})
	bob := newTestSession(registry, relay, &fakeMedia{}, &fakeSink{}, "bob",
		models.SeekerAttributes{Interests: []string{"coding"}})

	if err := alice.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer alice.Stop()
	if err := bob.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "call establishment", func() bool {
		return alice.Status().Connected && bob.Status().Connected
	})

	// Bob walks away. Alice must notice the abandonment and resume searching
	// without any local action.
	if err := bob.Stop(); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, "alice back in search", func() bool {
		status := alice.Status()
		return status.State == SessionSearching && status.CallID == ""
	})
	if !aliceSink.has(EventCallEnded) {
		t.Fatal("alice's sink should have seen the call end")
	}
	if bob.State() != SessionEnded {
		t.Fatalf("bob should be ENDED, got %s", bob.State())
	}

	// Teardown eventually removes the abandoned mailbox.
	waitFor(t, 5*time.Second, "mailbox cleanup", func() bool {
		return relay.SessionCount() == 0
	})
}
