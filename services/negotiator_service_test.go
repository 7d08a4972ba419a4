package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"campuslink_server/models"
)

// fakeTransport simulates the media stack. AddRemoteCandidate before a remote
// description is recorded as a violation rather than panicking, so tests can
// assert the buffering rule structurally.
type fakeTransport struct {
	mu            sync.Mutex
	localDesc     *models.SessionDescription
	remoteDesc    *models.SessionDescription
	applied       []models.IceCandidate
	violations    int
	closed        bool
	emitOnLocal   bool // emit one local candidate when the local description is set
	autoConnect   bool // report connected once descriptions and a candidate are in
	connectedSent bool

	localFn func(models.IceCandidate)
	stateFn func(TransportState)
	trackFn func()
}

func (f *fakeTransport) CreateOffer(ctx context.Context) (models.SessionDescription, error) {
	return models.SessionDescription{Type: "offer", SDP: "offer-sdp"}, nil
}

func (f *fakeTransport) CreateAnswer(ctx context.Context) (models.SessionDescription, error) {
	return models.SessionDescription{Type: "answer", SDP: "answer-sdp"}, nil
}

func (f *fakeTransport) SetLocalDescription(desc models.SessionDescription) error {
	f.mu.Lock()
	f.localDesc = &desc
	emit := f.emitOnLocal
	fn := f.localFn
	f.mu.Unlock()

	if emit && fn != nil {
		fn(models.IceCandidate{Candidate: "local-" + desc.Type})
	}
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc models.SessionDescription) error {
	f.mu.Lock()
	f.remoteDesc = &desc
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) AddRemoteCandidate(candidate models.IceCandidate) error {
	f.mu.Lock()
	if f.remoteDesc == nil {
		f.violations++
	}
	f.applied = append(f.applied, candidate)
	f.mu.Unlock()
	f.maybeConnect()
	return nil
}

func (f *fakeTransport) OnLocalCandidate(fn func(models.IceCandidate)) {
	f.mu.Lock()
	f.localFn = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnStateChange(fn func(TransportState)) {
	f.mu.Lock()
	f.stateFn = fn
	f.mu.Unlock()
}

func (f *fakeTransport) OnRemoteTrack(fn func()) {
	f.mu.Lock()
	f.trackFn = fn
	f.mu.Unlock()
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) maybeConnect() {
	f.mu.Lock()
	ready := f.autoConnect && !f.connectedSent &&
		f.localDesc != nil && f.remoteDesc != nil && len(f.applied) > 0
	if ready {
		f.connectedSent = true
	}
	stateFn := f.stateFn
	trackFn := f.trackFn
	f.mu.Unlock()

	if ready && stateFn != nil {
		stateFn(TransportConnected)
		if trackFn != nil {
			trackFn()
		}
	}
}

func (f *fakeTransport) earlyApplies() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.violations
}

func (f *fakeTransport) appliedCandidates() []models.IceCandidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.IceCandidate, len(f.applied))
	copy(out, f.applied)
	return out
}

func (f *fakeTransport) fireState(state TransportState) {
	f.mu.Lock()
	fn := f.stateFn
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testNegotiatorConfig() NegotiatorConfig {
	return NegotiatorConfig{PollInterval: 10 * time.Millisecond, ConnectTimeout: time.Minute}
}

func TestCandidateBufferingPreservesOrder(t *testing.T) {
	transport := &fakeTransport{}
	negotiator := NewNegotiator(NewMemoryRelay(), transport, "call-1", models.RoleCaller, "alice", "bob", testNegotiatorConfig())

	c1 := models.IceCandidate{Candidate: "c1"}
	c2 := models.IceCandidate{Candidate: "c2"}
	c3 := models.IceCandidate{Candidate: "c3"}

	// Candidates can arrive before the remote description; they must be
	// buffered, then drained in order once it lands.
	negotiator.handleRemoteCandidate(c1)
	negotiator.handleRemoteCandidate(c2)
	if len(transport.appliedCandidates()) != 0 {
		t.Fatal("candidates must not be applied before the remote description")
	}

	negotiator.applyRemoteDescription(models.SessionDescription{Type: "answer", SDP: "sdp"})
	negotiator.handleRemoteCandidate(c3)

	applied := transport.appliedCandidates()
	if len(applied) != 3 {
		t.Fatalf("expected 3 applied candidates, got %d", len(applied))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if applied[i].Candidate != want {
			t.Fatalf("candidate %d applied out of order: got %s want %s", i, applied[i].Candidate, want)
		}
	}
	if n := transport.earlyApplies(); n != 0 {
		t.Fatalf("%d candidates applied before the remote description", n)
	}
}

func TestCallerWritesOfferAndAppliesAnswer(t *testing.T) {
	relay := NewMemoryRelay()
	transport := &fakeTransport{emitOnLocal: true}
	ctx := context.Background()

	negotiator := NewNegotiator(relay, transport, "call-1", models.RoleCaller, "alice", "bob", testNegotiatorConfig())
	if err := negotiator.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer negotiator.Close()

	// The mailbox exists with the caller's offer.
	session, err := relay.GetCall(ctx, "call-1")
	if err != nil {
		t.Fatal(err)
	}
	if session.Offer == nil || session.Offer.Type != "offer" {
		t.Fatal("caller should have written the offer")
	}
	if session.CallerID != "alice" || session.CalleeID != "bob" {
		t.Fatalf("mailbox roles wrong: %s / %s", session.CallerID, session.CalleeID)
	}

	// Local candidates are flushed into the caller stream.
	waitFor(t, time.Second, "caller candidate flush", func() bool {
		records, _ := relay.ListCandidates(ctx, "call-1", models.RoleCaller, -1)
		return len(records) == 1
	})

	// The callee answers and streams a candidate; the caller picks both up.
	if err := relay.SetAnswer(ctx, "call-1", models.SessionDescription{Type: "answer", SDP: "answer-sdp"}); err != nil {
		t.Fatal(err)
	}
	if err := relay.AddCandidate(ctx, "call-1", models.RoleCallee, 0, models.IceCandidate{Candidate: "from-bob"}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, "answer and candidate applied", func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.remoteDesc != nil && len(transport.applied) == 1
	})
	if transport.earlyApplies() != 0 {
		t.Fatal("candidate applied before the answer")
	}
}

func TestCalleeAnswersOffer(t *testing.T) {
	relay := NewMemoryRelay()
	transport := &fakeTransport{emitOnLocal: true}
	ctx := context.Background()

	negotiator := NewNegotiator(relay, transport, "call-1", models.RoleCallee, "bob", "alice", testNegotiatorConfig())
	if err := negotiator.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer negotiator.Close()

	// No offer yet: the callee just keeps watching.
	time.Sleep(30 * time.Millisecond)
	if _, err := relay.GetCall(ctx, "call-1"); !errors.Is(err, ErrCallNotFound) {
		t.Fatal("callee must never create the mailbox")
	}

	offer := models.SessionDescription{Type: "offer", SDP: "offer-sdp"}
	if err := relay.CreateCall(ctx, models.CallSession{CallID: "call-1", CallerID: "alice", CalleeID: "bob", Offer: &offer}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, "answer written", func() bool {
		session, err := relay.GetCall(ctx, "call-1")
		return err == nil && session.Answer != nil
	})
	waitFor(t, time.Second, "callee candidate flush", func() bool {
		records, _ := relay.ListCandidates(ctx, "call-1", models.RoleCallee, -1)
		return len(records) == 1
	})

	transport.mu.Lock()
	gotRemote := transport.remoteDesc != nil && transport.remoteDesc.Type == "offer"
	transport.mu.Unlock()
	if !gotRemote {
		t.Fatal("callee should have applied the offer as remote description")
	}
}

func TestLocalCandidatesHeldUntilLocalDescription(t *testing.T) {
	relay := NewMemoryRelay()
	transport := &fakeTransport{}
	ctx := context.Background()

	negotiator := NewNegotiator(relay, transport, "call-1", models.RoleCallee, "bob", "alice", testNegotiatorConfig())

	negotiator.handleLocalCandidate(models.IceCandidate{Candidate: "early"})
	negotiator.flushLocalCandidates(ctx)

	records, err := relay.ListCandidates(ctx, "call-1", models.RoleCallee, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatal("candidates must not be flushed before a local description exists")
	}

	negotiator.markLocalSet()
	negotiator.flushLocalCandidates(ctx)
	records, err = relay.ListCandidates(ctx, "call-1", models.RoleCallee, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Candidate.Candidate != "early" {
		t.Fatalf("expected the held candidate to flush, got %v", records)
	}
}

func TestTransportFailureSignalsDisconnect(t *testing.T) {
	relay := NewMemoryRelay()
	transport := &fakeTransport{}
	ctx := context.Background()

	var reason string
	negotiator := NewNegotiator(relay, transport, "call-1", models.RoleCaller, "alice", "bob", testNegotiatorConfig())
	negotiator.OnDisconnect(func(r string) { reason = r })
	if err := negotiator.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer negotiator.Close()

	transport.fireState(TransportFailed)
	if reason == "" {
		t.Fatal("transport failure should reach the disconnect callback")
	}

	// Repeated failures fire the callback only once.
	before := reason
	transport.fireState(TransportDisconnected)
	if reason != before {
		t.Fatal("disconnect callback fired twice")
	}
}

func TestConnectTimeoutIsSoftFailure(t *testing.T) {
	relay := NewMemoryRelay()
	transport := &fakeTransport{}
	ctx := context.Background()

	done := make(chan string, 1)
	cfg := NegotiatorConfig{PollInterval: 10 * time.Millisecond, ConnectTimeout: 30 * time.Millisecond}
	negotiator := NewNegotiator(relay, transport, "call-1", models.RoleCaller, "alice", "bob", cfg)
	negotiator.OnDisconnect(func(r string) { done <- r })
	if err := negotiator.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer negotiator.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("connect timeout never fired")
	}
}

func TestNegotiatorIsSingleUse(t *testing.T) {
	relay := NewMemoryRelay()
	negotiator := NewNegotiator(relay, &fakeTransport{}, "call-1", models.RoleCaller, "alice", "bob", testNegotiatorConfig())
	if err := negotiator.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer negotiator.Close()

	if err := negotiator.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail")
	}
}
