package services

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"campuslink_server/models"
)

// Matchmaker states. The SEARCHING → MATCHED transition happens exactly once
// per matchmaker and doubles as the reentrancy guard: the scan loop and the
// self-watch both have to win it before issuing or accepting a pairing.
const (
	MatchmakerIdle      = "IDLE"
	MatchmakerSearching = "SEARCHING"
	MatchmakerMatched   = "MATCHED"
	MatchmakerCancelled = "CANCELLED"
)

// MatchResult describes one established pairing from this seeker's view.
type MatchResult struct {
	Role            string // caller | callee
	CallID          string
	RecordID        string
	PartnerRecordID string
	PeerUserID      string
	PeerAttributes  models.SeekerAttributes
}

// MatchmakerConfig tunes the scan and watch cadence and the relaxing
// score-threshold schedule.
type MatchmakerConfig struct {
	ScanInterval    time.Duration
	WatchInterval   time.Duration
	Thresholds      []ScoreThreshold
	GraceDelay      time.Duration // wait before deleting own record on cancel
	MaxScanFailures int           // consecutive failures before OnStalled fires
}

func (c MatchmakerConfig) withDefaults() MatchmakerConfig {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 3 * time.Second
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = time.Second
	}
	if len(c.Thresholds) == 0 {
		c.Thresholds = DefaultThresholds
	}
	if c.GraceDelay < 0 {
		c.GraceDelay = 0
	} else if c.GraceDelay == 0 {
		c.GraceDelay = 2 * time.Second
	}
	if c.MaxScanFailures <= 0 {
		c.MaxScanFailures = 5
	}
	return c
}

// Matchmaker owns one seeker's lifecycle in the presence registry: publish a
// searching record, periodically scan for candidates, perform the pairing
// handshake, and watch the own record for passive matches and abandonment.
type Matchmaker struct {
	registry SeekerRegistry
	cfg      MatchmakerConfig

	userID string
	mode   string
	attrs  models.SeekerAttributes

	mu        sync.Mutex
	state     string
	recordID  string
	startedAt time.Time
	scanning  bool
	failures  int
	stalled   bool
	lostFired bool
	result    *MatchResult

	onMatched func(MatchResult)
	onLost    func(reason string)
	onStalled func(err error)

	stopLoops context.CancelFunc
	loops     sync.WaitGroup
}

func NewMatchmaker(registry SeekerRegistry, userID, mode string, attrs models.SeekerAttributes, cfg MatchmakerConfig) *Matchmaker {
	return &Matchmaker{
		registry: registry,
		cfg:      cfg.withDefaults(),
		userID:   userID,
		mode:     mode,
		attrs:    attrs,
		state:    MatchmakerIdle,
	}
}

// OnMatched registers the pairing callback. Fired exactly once.
func (m *Matchmaker) OnMatched(fn func(MatchResult)) { m.onMatched = fn }

// OnLost registers the abandonment callback: the own record vanished or was
// flipped to disconnected by the peer. Fired at most once.
func (m *Matchmaker) OnLost(fn func(reason string)) { m.onLost = fn }

// OnStalled registers the persistent-failure callback, fired after
// MaxScanFailures consecutive registry errors.
func (m *Matchmaker) OnStalled(fn func(err error)) { m.onStalled = fn }

// Start cleans up stale records for this user, publishes a fresh searching
// record, and starts the scan and self-watch loops.
func (m *Matchmaker) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != MatchmakerIdle {
		m.mu.Unlock()
		return errors.New("matchmaker already started")
	}
	m.mu.Unlock()

	if err := m.registry.DeleteSeekersByUser(ctx, m.userID); err != nil {
		log.Printf("⚠️ Stale record cleanup failed for %s: %v", m.userID, err)
	}

	recordID, err := m.registry.CreateSeeker(ctx, models.SeekerRecord{
		UserID:     m.userID,
		Mode:       m.mode,
		Attributes: m.attrs,
	})
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.state = MatchmakerSearching
	m.recordID = recordID
	m.startedAt = time.Now()
	m.stopLoops = cancel
	m.mu.Unlock()

	m.loops.Add(2)
	go m.scanLoop(loopCtx)
	go m.watchLoop(loopCtx)
	return nil
}

func (m *Matchmaker) scanLoop(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanOnce(ctx)
		}
	}
}

func (m *Matchmaker) watchLoop(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.cfg.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.watchOnce(ctx)
		}
	}
}

// scanOnce runs one matchmaking cycle. Ticks never overlap: a scan-in-progress
// latch bails out early, and the SEARCHING state check makes re-entry after a
// match a no-op.
func (m *Matchmaker) scanOnce(ctx context.Context) {
	m.mu.Lock()
	if m.state != MatchmakerSearching || m.scanning {
		m.mu.Unlock()
		return
	}
	m.scanning = true
	recordID := m.recordID
	searchAge := time.Since(m.startedAt)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	// Banned identities never select candidates.
	if m.attrs.Banned {
		return
	}

	candidates, err := m.registry.ListSearching(ctx, m.mode, m.userID)
	if err != nil {
		m.recordScanFailure(err)
		return
	}
	m.mu.Lock()
	m.failures = 0
	m.stalled = false
	m.mu.Unlock()

	best, bestScore := m.pickBest(candidates, recordID, searchAge)
	if best == nil {
		return
	}
	if bestScore < MinScoreForAge(m.cfg.Thresholds, searchAge) {
		return
	}

	// Symmetry break: only the lexicographically lower userId initiates. The
	// higher side must wait to be matched passively via its self-watch, or the
	// two sides could double-consume each other with two different call ids.
	if !(m.userID < best.UserID) {
		return
	}

	m.initiatePairing(ctx, recordID, *best)
}

func (m *Matchmaker) pickBest(candidates []models.SeekerRecord, ownRecordID string, searchAge time.Duration) (*models.SeekerRecord, float64) {
	now := time.Now()
	var best *models.SeekerRecord
	var bestScore float64
	for i := range candidates {
		c := &candidates[i]
		if c.RecordID == ownRecordID || c.UserID == m.userID || c.Attributes.Banned {
			continue
		}
		// LOCAL pairs within the same institution only.
		if m.mode == models.ModeLocal && c.Attributes.Institution != m.attrs.Institution {
			continue
		}
		score := CompatibilityScore(m.attrs, c.Attributes, m.mode, searchAge, c.SearchAge(now))
		if best == nil || score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

// initiatePairing performs the two-record pairing write: claim the candidate,
// then flip the own record. Either write failing is a recoverable race.
func (m *Matchmaker) initiatePairing(ctx context.Context, recordID string, best models.SeekerRecord) {
	if !m.tryBeginPairing() {
		return
	}

	callID := models.DeriveCallID(recordID, best.RecordID)

	err := m.registry.ClaimSeeker(ctx, best.RecordID, models.Pairing{
		MatchedWith:           m.userID,
		MatchedWithAttributes: m.attrs,
		PartnerRecordID:       recordID,
		CallID:                callID,
	})
	if err != nil {
		if errors.Is(err, ErrPairConflict) {
			log.Printf("ℹ️ Candidate %s claimed by someone else; resuming scan", best.RecordID)
		} else {
			log.Printf("⚠️ Pairing write to candidate %s failed: %v", best.RecordID, err)
		}
		m.abortPairing()
		return
	}

	err = m.registry.ClaimSeeker(ctx, recordID, models.Pairing{
		MatchedWith:           best.UserID,
		MatchedWithAttributes: best.Attributes,
		PartnerRecordID:       best.RecordID,
		CallID:                callID,
	})
	if err != nil {
		// A third seeker claimed us between the two writes. Release the half
		// we claimed so the candidate is not stranded, then let the self-watch
		// deliver whatever happened to our own record.
		log.Printf("ℹ️ Own record %s no longer searching; releasing %s", recordID, best.RecordID)
		if relErr := m.registry.ReleaseSeeker(ctx, best.RecordID, m.userID); relErr != nil {
			log.Printf("⚠️ Failed to release candidate %s: %v", best.RecordID, relErr)
		}
		m.abortPairing()
		return
	}

	log.Printf("✅ Paired %s ↔ %s (call %s), initiating as caller", m.userID, best.UserID, callID)
	m.finishMatch(MatchResult{
		Role:            models.RoleCaller,
		CallID:          callID,
		RecordID:        recordID,
		PartnerRecordID: best.RecordID,
		PeerUserID:      best.UserID,
		PeerAttributes:  best.Attributes,
	})
}

// watchOnce polls the own record. While searching it detects passive matches
// and forced teardown; while matched it detects peer abandonment. Redelivered
// observations of an already-handled transition are no-ops.
func (m *Matchmaker) watchOnce(ctx context.Context) {
	m.mu.Lock()
	state := m.state
	recordID := m.recordID
	m.mu.Unlock()

	if state != MatchmakerSearching && state != MatchmakerMatched {
		return
	}

	record, err := m.registry.GetSeeker(ctx, recordID)
	if errors.Is(err, ErrSeekerNotFound) {
		m.lost("seeker record vanished")
		return
	}
	if err != nil {
		log.Printf("⚠️ Self-watch read failed: %v", err)
		return
	}

	switch record.Status {
	case models.StatusDisconnected:
		m.lost("peer disconnected")
	case models.StatusMatched:
		if state != MatchmakerSearching {
			return // already negotiating; redelivery is a no-op
		}
		if !m.tryBeginPairing() {
			return // scan loop is mid-pairing; next tick settles it
		}
		var peerAttrs models.SeekerAttributes
		if record.MatchedWithAttributes != nil {
			peerAttrs = *record.MatchedWithAttributes
		}
		log.Printf("✅ Matched passively by %s (call %s), joining as callee", record.MatchedWith, record.CallID)
		m.finishMatch(MatchResult{
			Role:            models.RoleCallee,
			CallID:          record.CallID,
			RecordID:        recordID,
			PartnerRecordID: record.PartnerRecordID,
			PeerUserID:      record.MatchedWith,
			PeerAttributes:  peerAttrs,
		})
	}
}

// tryBeginPairing wins the single SEARCHING → MATCHED transition.
func (m *Matchmaker) tryBeginPairing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MatchmakerSearching {
		return false
	}
	m.state = MatchmakerMatched
	return true
}

// abortPairing reverts a provisional transition after a lost race.
func (m *Matchmaker) abortPairing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MatchmakerMatched && m.result == nil {
		m.state = MatchmakerSearching
	}
}

func (m *Matchmaker) finishMatch(result MatchResult) {
	m.mu.Lock()
	if m.result != nil {
		m.mu.Unlock()
		return
	}
	m.result = &result
	cb := m.onMatched
	m.mu.Unlock()

	if cb != nil {
		cb(result)
	}
}

func (m *Matchmaker) lost(reason string) {
	m.mu.Lock()
	if m.state == MatchmakerCancelled || m.lostFired {
		m.mu.Unlock()
		return
	}
	m.lostFired = true
	cb := m.onLost
	m.mu.Unlock()

	log.Printf("ℹ️ Search for %s lost: %s", m.userID, reason)
	if cb != nil {
		cb(reason)
	}
}

func (m *Matchmaker) recordScanFailure(err error) {
	m.mu.Lock()
	m.failures++
	fire := m.failures >= m.cfg.MaxScanFailures && !m.stalled
	if fire {
		m.stalled = true
	}
	cb := m.onStalled
	m.mu.Unlock()

	log.Printf("⚠️ Scan failed: %v", err)
	if fire && cb != nil {
		cb(err)
	}
}

// Cancel marks the own record disconnected, notifies the matched peer's
// record the same way if a pairing existed, and deletes the own record after
// a grace delay so the peer's self-watch can observe the transition first.
func (m *Matchmaker) Cancel(ctx context.Context) {
	m.mu.Lock()
	if m.state == MatchmakerCancelled || m.state == MatchmakerIdle {
		if m.state == MatchmakerIdle {
			m.state = MatchmakerCancelled
		}
		m.mu.Unlock()
		return
	}
	m.state = MatchmakerCancelled
	recordID := m.recordID
	var partnerRecordID string
	if m.result != nil {
		partnerRecordID = m.result.PartnerRecordID
	}
	stop := m.stopLoops
	m.mu.Unlock()

	if stop != nil {
		stop()
	}

	// Best-effort cleanup writes; teardown must not block on them.
	if err := m.registry.MarkDisconnected(ctx, recordID); err != nil {
		log.Printf("⚠️ Failed to mark own record %s disconnected: %v", recordID, err)
	}
	if partnerRecordID != "" {
		if err := m.registry.MarkDisconnected(ctx, partnerRecordID); err != nil {
			log.Printf("⚠️ Failed to notify peer record %s: %v", partnerRecordID, err)
		}
	}

	registry := m.registry
	if m.cfg.GraceDelay > 0 {
		time.AfterFunc(m.cfg.GraceDelay, func() {
			if err := registry.DeleteSeeker(context.Background(), recordID); err != nil {
				log.Printf("⚠️ Failed to delete seeker record %s: %v", recordID, err)
			}
		})
	} else {
		if err := registry.DeleteSeeker(context.Background(), recordID); err != nil {
			log.Printf("⚠️ Failed to delete seeker record %s: %v", recordID, err)
		}
	}
}

// State returns the current lifecycle state.
func (m *Matchmaker) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Result returns the pairing result once matched, or nil.
func (m *Matchmaker) Result() *MatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// SearchAge returns how long this matchmaker has been searching.
func (m *Matchmaker) SearchAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startedAt.IsZero() {
		return 0
	}
	return time.Since(m.startedAt)
}
