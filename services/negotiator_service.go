package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"campuslink_server/models"
)

// NegotiatorConfig tunes the mailbox polling cadence and the soft-failure
// deadline for negotiations that never connect.
type NegotiatorConfig struct {
	PollInterval   time.Duration
	ConnectTimeout time.Duration
}

func (c NegotiatorConfig) withDefaults() NegotiatorConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 45 * time.Second
	}
	return c
}

// Negotiator drives exactly one offer/answer/candidate exchange over the
// signaling relay for one established pairing. Single-use: a fresh instance
// is built per call and never reused.
//
// Candidates can be observed before the remote description has been applied
// (the two mailbox streams are not ordered relative to each other), so every
// remote candidate seen early is buffered and drained FIFO once the remote
// description lands. Applying a candidate before the description would be
// undefined behavior in the media stack.
type Negotiator struct {
	relay     SignalRelay
	transport MediaTransport
	cfg       NegotiatorConfig

	callID string
	role   string
	selfID string
	peerID string

	// applyMu serializes every remote-side transport operation so drained
	// buffer entries and live candidates keep their relative order.
	applyMu   sync.Mutex
	remoteSet bool
	buffered  []models.IceCandidate

	mu           sync.Mutex
	started      bool
	closed       bool
	failed       bool
	connected    bool
	localSet     bool
	localSeq     int
	pendingLocal []models.IceCandidate
	remoteSeq    int
	answerToSend *models.SessionDescription

	onConnected  func()
	onDisconnect func(reason string)

	stopPolling  context.CancelFunc
	connectTimer *time.Timer
}

func NewNegotiator(relay SignalRelay, transport MediaTransport, callID, role, selfID, peerID string, cfg NegotiatorConfig) *Negotiator {
	return &Negotiator{
		relay:     relay,
		transport: transport,
		cfg:       cfg.withDefaults(),
		callID:    callID,
		role:      role,
		selfID:    selfID,
		peerID:    peerID,
		remoteSeq: -1,
	}
}

// OnConnected registers the media-flowing callback.
func (n *Negotiator) OnConnected(fn func()) { n.onConnected = fn }

// OnDisconnect registers the abandon-and-reset callback: transport failure,
// peer disappearance, or the connect timeout. Fired at most once.
func (n *Negotiator) OnDisconnect(fn func(reason string)) { n.onDisconnect = fn }

// Start wires the transport callbacks and runs the role's half of the
// exchange. Returns an error only for unrecoverable setup failures; signaling
// write errors are retried silently by the poll loop.
func (n *Negotiator) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return errors.New("negotiator already used")
	}
	n.started = true
	n.mu.Unlock()

	n.transport.OnLocalCandidate(n.handleLocalCandidate)
	n.transport.OnStateChange(n.handleStateChange)
	n.transport.OnRemoteTrack(func() {
		log.Printf("📺 [%s] first remote track arrived", n.callID)
	})

	if n.role == models.RoleCaller {
		if err := n.startAsCaller(ctx); err != nil {
			return err
		}
	}

	pollCtx, cancel := context.WithCancel(ctx)
	n.mu.Lock()
	n.stopPolling = cancel
	n.connectTimer = time.AfterFunc(n.cfg.ConnectTimeout, func() {
		n.fail("never reached connected state")
	})
	n.mu.Unlock()

	go n.pollLoop(pollCtx)
	return nil
}

func (n *Negotiator) startAsCaller(ctx context.Context) error {
	offer, err := n.transport.CreateOffer(ctx)
	if err != nil {
		return err
	}
	if err := n.transport.SetLocalDescription(offer); err != nil {
		return err
	}
	n.markLocalSet()

	// Creating the mailbox with the offer is what brings the call session
	// into existence.
	if err := n.relay.CreateCall(ctx, models.CallSession{
		CallID:   n.callID,
		CallerID: n.selfID,
		CalleeID: n.peerID,
		Offer:    &offer,
	}); err != nil {
		return err
	}
	n.flushLocalCandidates(ctx)
	return nil
}

func (n *Negotiator) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pollOnce(ctx)
		}
	}
}

func (n *Negotiator) pollOnce(ctx context.Context) {
	n.flushLocalCandidates(ctx)
	n.retryAnswer(ctx)

	session, err := n.relay.GetCall(ctx, n.callID)
	if errors.Is(err, ErrCallNotFound) {
		if n.role == models.RoleCaller {
			n.fail("call session deleted")
		}
		// Callee: the caller may simply not have written the offer yet.
		return
	}
	if err != nil {
		log.Printf("⚠️ [%s] mailbox read failed: %v", n.callID, err)
		return
	}

	switch n.role {
	case models.RoleCaller:
		if session.Answer != nil {
			n.applyRemoteDescription(*session.Answer)
		}
		n.pullRemoteCandidates(ctx, models.RoleCallee)
	case models.RoleCallee:
		if session.Offer != nil {
			n.handleOffer(ctx, *session.Offer)
		}
		n.pullRemoteCandidates(ctx, models.RoleCaller)
	}
}

// handleOffer applies the caller's offer and produces the answer. The answer
// write is retried by later ticks if the relay write fails.
func (n *Negotiator) handleOffer(ctx context.Context, offer models.SessionDescription) {
	n.applyMu.Lock()
	alreadySet := n.remoteSet
	n.applyMu.Unlock()
	if alreadySet {
		return
	}

	n.applyRemoteDescription(offer)

	answer, err := n.transport.CreateAnswer(ctx)
	if err != nil {
		n.fail("answer creation failed: " + err.Error())
		return
	}
	if err := n.transport.SetLocalDescription(answer); err != nil {
		n.fail("local description failed: " + err.Error())
		return
	}
	n.markLocalSet()

	n.mu.Lock()
	n.answerToSend = &answer
	n.mu.Unlock()
	n.retryAnswer(ctx)
	n.flushLocalCandidates(ctx)
}

func (n *Negotiator) retryAnswer(ctx context.Context) {
	n.mu.Lock()
	answer := n.answerToSend
	n.mu.Unlock()
	if answer == nil {
		return
	}
	if err := n.relay.SetAnswer(ctx, n.callID, *answer); err != nil {
		log.Printf("⚠️ [%s] answer write failed, will retry: %v", n.callID, err)
		return
	}
	n.mu.Lock()
	n.answerToSend = nil
	n.mu.Unlock()
}

// applyRemoteDescription sets the remote description once and drains the
// candidate buffer in FIFO order before any live candidate is applied.
func (n *Negotiator) applyRemoteDescription(desc models.SessionDescription) {
	n.applyMu.Lock()
	defer n.applyMu.Unlock()
	if n.remoteSet {
		return
	}
	if err := n.transport.SetRemoteDescription(desc); err != nil {
		log.Printf("⚠️ [%s] remote description rejected: %v", n.callID, err)
		return
	}
	n.remoteSet = true

	for _, candidate := range n.buffered {
		if err := n.transport.AddRemoteCandidate(candidate); err != nil {
			log.Printf("⚠️ [%s] buffered candidate rejected: %v", n.callID, err)
		}
	}
	n.buffered = nil
}

// pullRemoteCandidates reads newly appended entries of the peer's stream.
func (n *Negotiator) pullRemoteCandidates(ctx context.Context, remoteRole string) {
	n.mu.Lock()
	after := n.remoteSeq
	n.mu.Unlock()

	records, err := n.relay.ListCandidates(ctx, n.callID, remoteRole, after)
	if err != nil {
		log.Printf("⚠️ [%s] candidate read failed: %v", n.callID, err)
		return
	}

	for _, record := range records {
		n.mu.Lock()
		if record.Seq <= n.remoteSeq {
			n.mu.Unlock()
			continue // redelivered
		}
		n.remoteSeq = record.Seq
		n.mu.Unlock()
		n.handleRemoteCandidate(record.Candidate)
	}
}

func (n *Negotiator) handleRemoteCandidate(candidate models.IceCandidate) {
	n.applyMu.Lock()
	defer n.applyMu.Unlock()
	if !n.remoteSet {
		n.buffered = append(n.buffered, candidate)
		return
	}
	if err := n.transport.AddRemoteCandidate(candidate); err != nil {
		log.Printf("⚠️ [%s] candidate rejected: %v", n.callID, err)
	}
}

// handleLocalCandidate queues locally generated candidates; nothing is
// written to the relay until a local description exists.
func (n *Negotiator) handleLocalCandidate(candidate models.IceCandidate) {
	n.mu.Lock()
	n.pendingLocal = append(n.pendingLocal, candidate)
	ready := n.localSet
	n.mu.Unlock()
	if ready {
		n.flushLocalCandidates(context.Background())
	}
}

func (n *Negotiator) markLocalSet() {
	n.mu.Lock()
	n.localSet = true
	n.mu.Unlock()
}

// flushLocalCandidates appends queued candidates to the own stream. Failed
// writes stay queued and are retried on the next tick.
func (n *Negotiator) flushLocalCandidates(ctx context.Context) {
	for {
		n.mu.Lock()
		if !n.localSet || len(n.pendingLocal) == 0 || n.closed {
			n.mu.Unlock()
			return
		}
		candidate := n.pendingLocal[0]
		seq := n.localSeq
		n.mu.Unlock()

		if err := n.relay.AddCandidate(ctx, n.callID, n.role, seq, candidate); err != nil {
			log.Printf("⚠️ [%s] candidate write failed, will retry: %v", n.callID, err)
			return
		}

		n.mu.Lock()
		n.pendingLocal = n.pendingLocal[1:]
		n.localSeq++
		n.mu.Unlock()
	}
}

func (n *Negotiator) handleStateChange(state TransportState) {
	switch state {
	case TransportConnected:
		n.mu.Lock()
		first := !n.connected
		n.connected = true
		if n.connectTimer != nil {
			n.connectTimer.Stop()
		}
		cb := n.onConnected
		n.mu.Unlock()
		if first {
			log.Printf("✅ [%s] transport connected", n.callID)
			if cb != nil {
				cb()
			}
		}
	case TransportDisconnected, TransportFailed:
		n.fail("transport " + string(state))
	}
}

// fail routes any terminal condition to the abandon-and-reset path, once.
func (n *Negotiator) fail(reason string) {
	n.mu.Lock()
	if n.failed || n.closed {
		n.mu.Unlock()
		return
	}
	n.failed = true
	cb := n.onDisconnect
	n.mu.Unlock()

	log.Printf("ℹ️ [%s] negotiation abandoned: %s", n.callID, reason)
	if cb != nil {
		cb(reason)
	}
}

// Connected reports whether the transport reached the connected state.
func (n *Negotiator) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

// Close stops watching the relay and closes the transport. Idempotent. The
// mailbox itself is deleted by the session controller's teardown.
func (n *Negotiator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	stop := n.stopPolling
	if n.connectTimer != nil {
		n.connectTimer.Stop()
	}
	n.mu.Unlock()

	if stop != nil {
		stop()
	}
	if err := n.transport.Close(); err != nil {
		log.Printf("⚠️ [%s] transport close failed: %v", n.callID, err)
	}
}
