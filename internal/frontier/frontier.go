// Package frontier implements the depth-aware work queue at the heart of
// the crawl engine: per-domain FIFO buckets with round-robin dispatch,
// dedup-gated admission, retry backoff, and lease-based crash recovery.
package frontier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/marketmap/shopcrawler/internal/crawler"
	"github.com/marketmap/shopcrawler/internal/metrics"
)

// Store is the persistence journal behind the frontier. Implementations
// must make each call atomic; the frontier serializes its own state under
// a single lock.
type Store interface {
	SaveEntry(ctx context.Context, entry crawler.FrontierEntry) error
	UpdateEntry(ctx context.Context, entry crawler.FrontierEntry) error
	// ClaimEntry atomically moves a queued or retrying entry in flight,
	// stamping the lease and attempt. It returns false when the entry no
	// longer exists or another process already claimed it. This is the
	// cross-process dispatch gate: an entry is handed to a worker only
	// after its claim succeeds.
	ClaimEntry(ctx context.Context, entryID string, leasedAt time.Time, attempt int) (bool, error)
	DeleteEntry(ctx context.Context, entryID string) error
	DropJob(ctx context.Context, jobID string) error
	// LoadPending returns all queued and retrying entries, plus in-flight
	// entries whose lease started before staleBefore.
	LoadPending(ctx context.Context, staleBefore time.Time) ([]crawler.FrontierEntry, error)
	// CountPending returns how many rows for the job are still queued,
	// retrying, or in flight, across every process sharing the journal.
	CountPending(ctx context.Context, jobID string) (int, error)
}

// Config controls retry, backoff, and lease recovery behavior.
type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
	// LeaseTimeout bounds how long an entry may stay in flight before the
	// journal sweep treats it as lost.
	LeaseTimeout time.Duration
	// SweepInterval is how often Run re-reads the journal for expired
	// leases and entries admitted by other processes.
	SweepInterval time.Duration
}

// maxBackoffShift caps the exponential backoff doubling.
const maxBackoffShift = 10

type bucket struct {
	ids []string
}

// Frontier implements crawler.Frontier. A single mutex guards all entry
// state; no lock is held across store or network calls that block.
type Frontier struct {
	mu        sync.Mutex
	entries   map[string]*crawler.FrontierEntry
	buckets   map[string]*bucket
	ring      []string
	cursor    int
	jobDepth  map[string]int
	active    map[string]int
	inflight  map[string]int
	discarded map[string]int

	dedup  crawler.DedupStore
	rate   crawler.RateController
	store  Store
	clock  crawler.Clock
	idGen  crawler.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// New constructs a Frontier.
func New(
	dedup crawler.DedupStore,
	rate crawler.RateController,
	store Store,
	clock crawler.Clock,
	idGen crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Frontier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.LeaseTimeout / 2
	}
	return &Frontier{
		entries:   make(map[string]*crawler.FrontierEntry),
		buckets:   make(map[string]*bucket),
		jobDepth:  make(map[string]int),
		active:    make(map[string]int),
		inflight:  make(map[string]int),
		discarded: make(map[string]int),
		dedup:     dedup,
		rate:      rate,
		store:     store,
		clock:     clock,
		idGen:     idGen,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterJob makes the frontier accept entries for jobID up to maxDepth.
func (f *Frontier) RegisterJob(jobID string, maxDepth int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobDepth[jobID] = maxDepth
}

// Enqueue admits url at parentDepth+1. Seeds are enqueued with parentDepth
// -1. Returns false without error when the depth gate or the dedup claim
// rejects the URL.
func (f *Frontier) Enqueue(ctx context.Context, jobID, rawURL string, parentDepth int) (bool, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false, fmt.Errorf("enqueue %q: %w", rawURL, err)
	}
	domain, err := crawler.DomainOf(normalized)
	if err != nil {
		return false, fmt.Errorf("enqueue %q: %w", rawURL, err)
	}

	depth := parentDepth + 1

	f.mu.Lock()
	maxDepth, registered := f.jobDepth[jobID]
	f.mu.Unlock()
	if !registered {
		return false, fmt.Errorf("enqueue for job %s: %w", jobID, crawler.ErrJobNotRunning)
	}
	if depth > maxDepth {
		f.mu.Lock()
		f.discarded[jobID]++
		f.mu.Unlock()
		return false, nil
	}

	// The dedup claim is the exactly-once gate; it happens at admission,
	// never at dispatch, and is never rolled back.
	claimed, err := f.dedup.TryClaim(ctx, jobID, normalized)
	if err != nil {
		return false, fmt.Errorf("enqueue claim: %w", err)
	}
	if !claimed {
		metrics.ObserveDedupReject()
		f.mu.Lock()
		f.discarded[jobID]++
		f.mu.Unlock()
		return false, nil
	}

	id, err := f.idGen.NewID()
	if err != nil {
		return false, fmt.Errorf("enqueue id: %w", err)
	}
	now := f.clock.Now()
	entry := crawler.FrontierEntry{
		ID:         id,
		JobID:      jobID,
		URL:        normalized,
		Domain:     domain,
		Depth:      depth,
		State:      crawler.EntryQueued,
		Discovered: now,
		ReadyAt:    now,
	}
	if err := f.store.SaveEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("enqueue journal: %w", err)
	}

	f.mu.Lock()
	f.adopt(entry)
	f.mu.Unlock()

	metrics.IncFrontierEntries()
	f.logger.Debug("entry admitted",
		zap.String("job_id", jobID),
		zap.String("url", normalized),
		zap.Int("depth", depth),
	)
	return true, nil
}

// DequeueReady scans domains round-robin, skipping any the rate controller
// denies, and returns the next ready entry as an in-flight work unit. The
// entry is dispatched only after the journal claim succeeds, so two
// processes sharing a store never hand the same entry to both their pools.
func (f *Frontier) DequeueReady(ctx context.Context) (crawler.WorkUnit, bool) {
	for {
		unit, snapshot, ok := f.selectReady()
		if !ok {
			return crawler.WorkUnit{}, false
		}

		claimed, err := f.store.ClaimEntry(ctx, snapshot.ID, *snapshot.LeasedAt, snapshot.Attempt)
		if err != nil {
			// Leave the entry queued; dispatching without a journal claim
			// could double-fetch it.
			f.logger.Warn("lease claim failed",
				zap.String("entry_id", snapshot.ID), zap.Error(err))
			f.unclaim(snapshot.ID)
			f.rate.Release(snapshot.Domain, true)
			return crawler.WorkUnit{}, false
		}
		if !claimed {
			// Another process owns this entry now; forget our copy.
			metrics.ObserveDispatchDenial("claim")
			f.discardClaimed(snapshot.ID)
			f.rate.Release(snapshot.Domain, true)
			continue
		}
		return unit, true
	}
}

// selectReady picks the next dispatchable entry under the lock and marks
// it in flight in memory. The journal claim happens in the caller.
func (f *Frontier) selectReady() (crawler.WorkUnit, crawler.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	n := len(f.ring)
	for i := 0; i < n; i++ {
		idx := (f.cursor + i) % n
		domain := f.ring[idx]
		b := f.buckets[domain]
		pos, entry := f.firstReady(b, now)
		if entry == nil {
			continue
		}
		if !f.rate.Admit(domain) {
			metrics.ObserveDispatchDenial("rate")
			continue
		}

		b.ids = append(b.ids[:pos], b.ids[pos+1:]...)
		entry.State = crawler.EntryInFlight
		entry.Attempt++
		leased := now
		entry.LeasedAt = &leased
		f.inflight[entry.JobID]++
		f.cursor = (idx + 1) % n
		unit := crawler.WorkUnit{
			EntryID: entry.ID,
			JobID:   entry.JobID,
			URL:     entry.URL,
			Domain:  entry.Domain,
			Depth:   entry.Depth,
			Attempt: entry.Attempt,
		}
		return unit, *entry, true
	}
	return crawler.WorkUnit{}, crawler.FrontierEntry{}, false
}

// unclaim reverts an in-memory dispatch after a failed journal claim so
// the entry is retried on a later poll.
func (f *Frontier) unclaim(entryID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok || entry.State != crawler.EntryInFlight {
		return
	}
	entry.State = crawler.EntryQueued
	entry.Attempt--
	entry.LeasedAt = nil
	if f.inflight[entry.JobID] > 0 {
		f.inflight[entry.JobID]--
	}
	f.buckets[entry.Domain].ids = append(f.buckets[entry.Domain].ids, entry.ID)
}

// discardClaimed drops the local copy of an entry another process claimed.
func (f *Frontier) discardClaimed(entryID string) {
	f.mu.Lock()
	entry, ok := f.entries[entryID]
	if !ok {
		f.mu.Unlock()
		return
	}
	entry.State = crawler.EntryDone
	f.remove(entry)
	f.mu.Unlock()
	metrics.DecFrontierEntries()
}

// Ack transitions an in-flight entry to done and removes it.
func (f *Frontier) Ack(ctx context.Context, entryID string) error {
	f.mu.Lock()
	entry, ok := f.entries[entryID]
	if !ok || entry.State != crawler.EntryInFlight {
		f.mu.Unlock()
		return fmt.Errorf("ack %s: %w", entryID, crawler.ErrNotFound)
	}
	entry.State = crawler.EntryDone
	f.remove(entry)
	domain, jobID := entry.Domain, entry.JobID
	f.mu.Unlock()

	f.rate.Release(domain, true)
	metrics.DecFrontierEntries()
	if err := f.store.DeleteEntry(ctx, entryID); err != nil {
		f.logger.Warn("ack journal delete failed",
			zap.String("entry_id", entryID), zap.String("job_id", jobID), zap.Error(err))
	}
	return nil
}

// Fail releases the domain slot and either schedules a retry with
// exponential backoff or marks the entry dead. Returns true when dead.
func (f *Frontier) Fail(ctx context.Context, entryID string, retryable bool) (bool, error) {
	f.mu.Lock()
	entry, ok := f.entries[entryID]
	if !ok || entry.State != crawler.EntryInFlight {
		f.mu.Unlock()
		return false, fmt.Errorf("fail %s: %w", entryID, crawler.ErrNotFound)
	}
	domain := entry.Domain
	// A dropped job keeps no retry budget: its in-flight entries may
	// finish, never be redispatched.
	_, running := f.jobDepth[entry.JobID]

	if retryable && running && entry.Attempt <= f.cfg.MaxRetries {
		entry.State = crawler.EntryRetrying
		entry.LeasedAt = nil
		if f.inflight[entry.JobID] > 0 {
			f.inflight[entry.JobID]--
		}
		entry.ReadyAt = f.clock.Now().Add(f.backoff(entry.Attempt))
		f.buckets[domain].ids = append(f.buckets[domain].ids, entry.ID)
		snapshot := *entry
		f.mu.Unlock()

		f.rate.Release(domain, false)
		metrics.ObserveRetry()
		if err := f.store.UpdateEntry(ctx, snapshot); err != nil {
			f.logger.Warn("retry journal write failed",
				zap.String("entry_id", entryID), zap.Error(err))
		}
		return false, nil
	}

	entry.State = crawler.EntryDead
	f.remove(entry)
	f.mu.Unlock()

	f.rate.Release(domain, false)
	metrics.DecFrontierEntries()
	metrics.ObserveDeadEntry()
	if err := f.store.DeleteEntry(ctx, entryID); err != nil {
		f.logger.Warn("dead journal delete failed",
			zap.String("entry_id", entryID), zap.Error(err))
	}
	return true, nil
}

// DropJob discards all queued and retrying entries for a job. In-flight
// entries finish normally; their results are discarded upstream.
func (f *Frontier) DropJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	delete(f.jobDepth, jobID)
	delete(f.discarded, jobID)
	var dropped int
	for _, entry := range f.entries {
		if entry.JobID != jobID || entry.State == crawler.EntryInFlight {
			continue
		}
		f.remove(entry)
		f.pull(entry.Domain, entry.ID)
		dropped++
	}
	f.mu.Unlock()

	for i := 0; i < dropped; i++ {
		metrics.DecFrontierEntries()
	}
	if err := f.store.DropJob(ctx, jobID); err != nil {
		return fmt.Errorf("drop job journal: %w", err)
	}
	f.logger.Info("job entries dropped", zap.String("job_id", jobID), zap.Int("count", dropped))
	return nil
}

// Drained reports whether no entry for the job is queued, in flight, or
// awaiting retry. This is the primary input to completion detection.
func (f *Frontier) Drained(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[jobID] == 0
}

// InFlight returns the number of in-flight entries for a job.
func (f *Frontier) InFlight(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight[jobID]
}

// Discarded returns how many URLs were rejected by the depth gate or the
// dedup claim for a job.
func (f *Frontier) Discarded(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discarded[jobID]
}

// Restore reloads pending entries from the journal: rows this process
// does not hold yet, including entries admitted by other processes and
// entries stuck in flight past the lease timeout. Stale leases are
// requeued and their rows rewritten so the dispatch claim can win them
// again; the attempt count already reflects the lost try. Restore runs
// once at startup and then periodically from Run.
func (f *Frontier) Restore(ctx context.Context) (int, error) {
	staleBefore := f.clock.Now().Add(-f.cfg.LeaseTimeout)
	pending, err := f.store.LoadPending(ctx, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("restore frontier: %w: %w", crawler.ErrStoreUnavailable, err)
	}

	f.mu.Lock()
	restored := 0
	var requeued []crawler.FrontierEntry
	for _, entry := range pending {
		if _, exists := f.entries[entry.ID]; exists {
			continue
		}
		if entry.State == crawler.EntryInFlight {
			entry.State = crawler.EntryQueued
			entry.LeasedAt = nil
			entry.ReadyAt = f.clock.Now()
			requeued = append(requeued, entry)
			metrics.ObserveLeaseRecovered()
			f.logger.Info("stale in-flight entry requeued",
				zap.String("entry_id", entry.ID), zap.String("url", entry.URL))
		}
		f.adopt(entry)
		restored++
	}
	f.mu.Unlock()

	for _, entry := range requeued {
		if err := f.store.UpdateEntry(ctx, entry); err != nil {
			f.logger.Warn("requeue journal write failed",
				zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}
	for i := 0; i < restored; i++ {
		metrics.IncFrontierEntries()
	}
	return restored, nil
}

// Run sweeps the journal until ctx finishes, so leases lost to a crashed
// process are recovered even when no restart happens and worker-only
// processes pick up entries admitted elsewhere.
func (f *Frontier) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := f.Restore(ctx)
			if err != nil {
				f.logger.Warn("journal sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				f.logger.Info("journal sweep adopted entries", zap.Int("count", n))
			}
		}
	}
}

// Quiesced reports whether no work remains for the job anywhere: nothing
// held by this process and no pending journal row held by a peer. Job
// completion pivots on this, not on the local view alone.
func (f *Frontier) Quiesced(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	busy := f.active[jobID] > 0 || f.inflight[jobID] > 0
	f.mu.Unlock()
	if busy {
		return false, nil
	}
	pending, err := f.store.CountPending(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("count pending: %w", err)
	}
	return pending == 0, nil
}

// adopt inserts an entry into the in-memory structures. Caller holds mu.
func (f *Frontier) adopt(entry crawler.FrontierEntry) {
	e := entry
	f.entries[e.ID] = &e
	b, ok := f.buckets[e.Domain]
	if !ok {
		b = &bucket{}
		f.buckets[e.Domain] = b
		f.ring = append(f.ring, e.Domain)
	}
	b.ids = append(b.ids, e.ID)
	f.active[e.JobID]++
}

// remove drops an entry from the maps and per-job counters. Caller holds mu.
func (f *Frontier) remove(entry *crawler.FrontierEntry) {
	if entry.State == crawler.EntryDone || entry.State == crawler.EntryDead {
		if f.inflight[entry.JobID] > 0 {
			f.inflight[entry.JobID]--
		}
	}
	delete(f.entries, entry.ID)
	f.active[entry.JobID]--
	if f.active[entry.JobID] <= 0 {
		delete(f.active, entry.JobID)
	}
	if f.inflight[entry.JobID] <= 0 {
		delete(f.inflight, entry.JobID)
	}
}

// pull removes an id from a domain bucket. Caller holds mu.
func (f *Frontier) pull(domain, id string) {
	b, ok := f.buckets[domain]
	if !ok {
		return
	}
	for i, candidate := range b.ids {
		if candidate == id {
			b.ids = append(b.ids[:i], b.ids[i+1:]...)
			return
		}
	}
}

// firstReady finds the first dispatchable entry in a bucket, lazily
// promoting retrying entries whose backoff has elapsed. Caller holds mu.
func (f *Frontier) firstReady(b *bucket, now time.Time) (int, *crawler.FrontierEntry) {
	if b == nil {
		return -1, nil
	}
	for i, id := range b.ids {
		entry, ok := f.entries[id]
		if !ok {
			continue
		}
		switch entry.State {
		case crawler.EntryQueued:
			return i, entry
		case crawler.EntryRetrying:
			if !entry.ReadyAt.After(now) {
				entry.State = crawler.EntryQueued
				return i, entry
			}
		}
	}
	return -1, nil
}

func (f *Frontier) backoff(attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return f.cfg.BackoffBase * (1 << shift)
}
