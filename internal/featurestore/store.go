// Package featurestore maintains per-account behavioral state: rolling
// transaction windows, last-seen location, trust score and account age.
package featurestore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// snapshotTTL bounds how long cached profile snapshots survive.
	snapshotTTL = 24 * time.Hour

	// cacheTimeout caps the wait on a backing-cache lookup. Lookups that
	// exceed it fall back to cold-start rather than stalling scoring.
	cacheTimeout = 100 * time.Millisecond
)

// Store is the authoritative in-process feature store. The backing cache
// holds write-through profile snapshots so state survives restarts and is
// shareable across instances; when it is unreachable the store degrades
// to in-process state and never fails the caller.
type Store struct {
	cache  domain.Cache
	logger *slog.Logger

	mu       sync.RWMutex
	accounts map[string]*accountState
}

// accountState holds one account's live windows. All mutation happens
// under the per-account lock, serializing updates for one account while
// leaving other accounts free.
type accountState struct {
	mu sync.Mutex

	trustScore    float64
	firstSeen     time.Time
	lastLocation  *domain.GeoPoint
	lastTimestamp time.Time

	countWindow *bucketWindow // 1h transaction count, 1-minute buckets
	sumWindow   *bucketWindow // 24h amount sum, 1-hour buckets

	totalAmount float64
	totalCount  int
}

// New creates a feature store backed by the given cache. A nil cache is
// allowed; the store then runs purely in-process.
func New(cache domain.Cache, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cache:    cache,
		logger:   logger,
		accounts: make(map[string]*accountState),
	}
}

func newAccountState() *accountState {
	return &accountState{
		trustScore:  domain.DefaultTrustScore,
		firstSeen:   time.Now().UTC(),
		countWindow: newBucketWindow(time.Hour, time.Minute),
		sumWindow:   newBucketWindow(24*time.Hour, time.Hour),
	}
}

// Get returns the account's profile snapshot, creating a cold-start
// profile for unseen accounts. Never returns an error: a miss is a
// cold-start signal.
func (s *Store) Get(ctx context.Context, accountID string) *domain.AccountProfile {
	state := s.state(ctx, accountID)

	state.mu.Lock()
	defer state.mu.Unlock()
	return state.snapshot(accountID, time.Now().UTC())
}

// Update applies a scored transaction to the account's rolling windows
// and last-seen context, then writes the snapshot through to the cache.
func (s *Store) Update(ctx context.Context, tx *domain.Transaction) {
	state := s.state(ctx, tx.AccountID)

	state.mu.Lock()
	state.countWindow.add(tx.Timestamp, 1)
	state.sumWindow.add(tx.Timestamp, tx.Amount)
	state.totalAmount += tx.Amount
	state.totalCount++

	if tx.Location != nil && !tx.Timestamp.Before(state.lastTimestamp) {
		state.lastLocation = tx.Location
	}
	if tx.Timestamp.After(state.lastTimestamp) {
		state.lastTimestamp = tx.Timestamp
	}

	snapshot := state.snapshot(tx.AccountID, time.Now().UTC())
	state.mu.Unlock()

	s.writeThrough(ctx, tx.AccountID, snapshot)
}

// AdjustTrust shifts the account's trust score by delta, clamped to [0,1].
func (s *Store) AdjustTrust(ctx context.Context, accountID string, delta float64) float64 {
	state := s.state(ctx, accountID)

	state.mu.Lock()
	state.trustScore += delta
	if state.trustScore < 0 {
		state.trustScore = 0
	}
	if state.trustScore > 1 {
		state.trustScore = 1
	}
	trust := state.trustScore
	snapshot := state.snapshot(accountID, time.Now().UTC())
	state.mu.Unlock()

	s.writeThrough(ctx, accountID, snapshot)
	return trust
}

// Hydrate seeds an account's durable fields from an existing profile
// snapshot. Rolling windows are not restored; they refill as traffic
// arrives. Used on cache-backed warm starts.
func (s *Store) Hydrate(p *domain.AccountProfile) {
	s.mu.Lock()
	state, ok := s.accounts[p.AccountID]
	if !ok {
		state = newAccountState()
		s.accounts[p.AccountID] = state
	}
	s.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	state.trustScore = p.TrustScore
	if !p.FirstSeen.IsZero() {
		state.firstSeen = p.FirstSeen
	}
	state.lastLocation = p.LastLocation
	state.lastTimestamp = p.LastTimestamp
	if p.AvgAmount > 0 {
		// Preserve the historical average as a single synthetic observation.
		state.totalAmount = p.AvgAmount
		state.totalCount = 1
	}
}

// state returns the live state for an account, hydrating from the cache
// on first sight of the account in this process.
func (s *Store) state(ctx context.Context, accountID string) *accountState {
	s.mu.RLock()
	state, ok := s.accounts[accountID]
	s.mu.RUnlock()
	if ok {
		return state
	}

	// First sight in-process: consult the cache before declaring cold start.
	cached := s.loadSnapshot(ctx, accountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok = s.accounts[accountID]; ok {
		return state
	}
	state = newAccountState()
	if cached != nil {
		state.trustScore = cached.TrustScore
		if !cached.FirstSeen.IsZero() {
			state.firstSeen = cached.FirstSeen
		}
		state.lastLocation = cached.LastLocation
		state.lastTimestamp = cached.LastTimestamp
		if cached.AvgAmount > 0 {
			state.totalAmount = cached.AvgAmount
			state.totalCount = 1
		}
	}
	s.accounts[accountID] = state
	return state
}

func (s *Store) loadSnapshot(ctx context.Context, accountID string) *domain.AccountProfile {
	if s.cache == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	p, err := s.cache.GetProfile(cctx, accountID)
	if err != nil {
		s.logger.Warn("feature store cache lookup failed, using cold start",
			"account_id", accountID, "error", err)
		return nil
	}
	return p
}

func (s *Store) writeThrough(ctx context.Context, accountID string, p *domain.AccountProfile) {
	if s.cache == nil {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cacheTimeout)
	defer cancel()

	if err := s.cache.SetProfile(cctx, accountID, p, snapshotTTL); err != nil {
		s.logger.Warn("feature store cache write failed",
			"account_id", accountID, "error", err)
	}
}

// snapshot builds a point-in-time profile. Caller must hold state.mu.
func (st *accountState) snapshot(accountID string, now time.Time) *domain.AccountProfile {
	var avg float64
	if st.totalCount > 0 {
		avg = st.totalAmount / float64(st.totalCount)
	}

	return &domain.AccountProfile{
		AccountID:      accountID,
		AccountAgeDays: int(now.Sub(st.firstSeen).Hours() / 24),
		TrustScore:     st.trustScore,
		TxCount1h:      int(st.countWindow.total(now)),
		AmountSum24h:   st.sumWindow.total(now),
		AvgAmount:      avg,
		LastLocation:   st.lastLocation,
		LastTimestamp:  st.lastTimestamp,
		FirstSeen:      st.firstSeen,
	}
}
