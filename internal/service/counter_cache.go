package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/repository"
	"github.com/govforge/bcr-service/internal/workflow"
)

// SubmissionStore is the submission data surface the services consume.
type SubmissionStore interface {
	GetByID(ctx context.Context, id string) (*repository.Submission, error)
	UpdateReviewOutcome(ctx context.Context, id, outcome string) error
	LinkBCR(ctx context.Context, id, bcrID string) error
	ListUnreviewed(ctx context.Context, limit int) ([]*repository.Submission, error)
	Counts(ctx context.Context) (repository.SubmissionCounts, error)
}

// BCRStore is the BCR data surface the services consume.
type BCRStore interface {
	GetByID(ctx context.Context, id string) (*repository.BCR, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*repository.BCR, error)
	Create(ctx context.Context, submissionID, initialPhase, initialStatus, urgencyLevel string, impactedAreas []string, seed repository.HistoryEntry) (*repository.BCR, error)
	AppendHistoryAndUpdate(ctx context.Context, id, newPhase, newStatus string, entry repository.HistoryEntry) (*repository.BCR, error)
	ListRecent(ctx context.Context, limit int) ([]*repository.BCR, error)
	ListActive(ctx context.Context, limit int) ([]*repository.BCR, error)
	CountsByPhase(ctx context.Context) (map[string]int, error)
	CountsByStatus(ctx context.Context) (map[string]int, error)
	CountsByUrgency(ctx context.Context) (map[string]int, error)
	CountsByImpactArea(ctx context.Context) (map[string]int, error)
}

// BCRCounts slices the BCR population four ways.
type BCRCounts struct {
	ByPhase      map[string]int `json:"by_phase"`
	ByStatus     map[string]int `json:"by_status"`
	ByUrgency    map[string]int `json:"by_urgency"`
	ByImpactArea map[string]int `json:"by_impact_area"`
}

// CounterSnapshot is the cached aggregate served to dashboard reads. It is
// treated as immutable once published: incremental patches clone it and swap
// the clone in, so a reader holding a snapshot never sees it change.
type CounterSnapshot struct {
	Submissions       repository.SubmissionCounts `json:"submissions"`
	BCRs              BCRCounts                   `json:"bcrs"`
	LastUpdated       time.Time                   `json:"last_updated"`
	TTL               time.Duration               `json:"ttl"`
	RefreshInProgress bool                        `json:"refresh_in_progress"`
	Error             bool                        `json:"error"`
	ErrorMessage      string                      `json:"error_message,omitempty"`
}

// Clone deep-copies the snapshot so patches never mutate a published one.
func (s *CounterSnapshot) Clone() *CounterSnapshot {
	out := *s
	out.BCRs = BCRCounts{
		ByPhase:      copyCounts(s.BCRs.ByPhase),
		ByStatus:     copyCounts(s.BCRs.ByStatus),
		ByUrgency:    copyCounts(s.BCRs.ByUrgency),
		ByImpactArea: copyCounts(s.BCRs.ByImpactArea),
	}
	return &out
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UrgencyLevels is the fixed set of urgency buckets.
var UrgencyLevels = []string{"Low", "Medium", "High", "Critical"}

// CounterCache computes and caches cross-store aggregate counts.
//
// Reads are served from the last good snapshot. A snapshot older than the TTL
// is still served immediately while a refresh runs in the background
// (stale-while-revalidate). Concurrent refreshes are coalesced into a single
// aggregation pass; callers waiting on an in-flight refresh are bounded by a
// wait timeout and fall back to the stale snapshot. A failed or timed-out
// recompute never discards previous data.
//
// The cache is process-local and rebuilt from scratch on restart. It is
// constructed in main and closed on shutdown.
type CounterCache struct {
	submissions SubmissionStore
	bcrs        BCRStore
	registry    *workflow.Registry
	log         *logger.Logger

	ttl            time.Duration
	refreshTimeout time.Duration
	waitTimeout    time.Duration

	mu       sync.RWMutex
	snapshot *CounterSnapshot

	group      singleflight.Group
	refreshing atomic.Bool
	closed     atomic.Bool
	wg         sync.WaitGroup
}

// NewCounterCache creates an empty cache; the first read recomputes
// synchronously.
func NewCounterCache(
	submissions SubmissionStore,
	bcrs BCRStore,
	registry *workflow.Registry,
	ttl, refreshTimeout, waitTimeout time.Duration,
	log *logger.Logger,
) *CounterCache {
	return &CounterCache{
		submissions:    submissions,
		bcrs:           bcrs,
		registry:       registry,
		log:            log,
		ttl:            ttl,
		refreshTimeout: refreshTimeout,
		waitTimeout:    waitTimeout,
	}
}

// Get returns the current snapshot. Fresh snapshots are returned directly;
// stale ones are returned immediately with a refresh scheduled in the
// background; the very first call recomputes before returning.
func (c *CounterCache) Get(ctx context.Context, forceRefresh bool) (*CounterSnapshot, error) {
	snap := c.current()
	if snap == nil || forceRefresh {
		return c.Refresh(ctx)
	}
	if time.Since(snap.LastUpdated) < c.ttl {
		return snap, nil
	}

	c.scheduleRefresh()
	out := snap.Clone()
	out.RefreshInProgress = true
	return out, nil
}

// Refresh performs (or joins) a full recompute. At most one aggregation pass
// runs at a time; every concurrent caller receives its result. Waiting is
// bounded: past the wait timeout the previous snapshot is served instead.
func (c *CounterCache) Refresh(ctx context.Context) (*CounterSnapshot, error) {
	ch := c.group.DoChan("refresh", func() (any, error) {
		return c.recompute()
	})

	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return c.keepPreviousOnError(res.Err)
		}
		return res.Val.(*CounterSnapshot), nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if prev := c.current(); prev != nil {
		return prev, nil
	}
	return nil, errors.New(errors.ErrCodeTimeout, "timed out waiting for counter refresh")
}

// recompute runs the full aggregation pass. It deliberately detaches from any
// caller context: the result is shared by every coalesced waiter, so one
// caller going away must not cancel it. The refresh timeout is the only bound.
func (c *CounterCache) recompute() (*CounterSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.refreshTimeout)
	defer cancel()

	c.refreshing.Store(true)
	defer c.refreshing.Store(false)

	subs, err := c.submissions.Counts(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTimeout, "counter refresh timed out")
		}
		c.log.Warn().Err(err).Str("dimension", "submissions").Msg("counter aggregation failed; bucket zeroed")
		subs = repository.SubmissionCounts{}
	}

	byPhase, err := c.countDimension(ctx, "phase", c.bcrs.CountsByPhase)
	if err != nil {
		return nil, err
	}
	byStatus, err := c.countDimension(ctx, "status", c.bcrs.CountsByStatus)
	if err != nil {
		return nil, err
	}
	byUrgency, err := c.countDimension(ctx, "urgency", c.bcrs.CountsByUrgency)
	if err != nil {
		return nil, err
	}
	byImpactArea, err := c.countDimension(ctx, "impact_area", c.bcrs.CountsByImpactArea)
	if err != nil {
		return nil, err
	}

	snap := &CounterSnapshot{
		Submissions: subs,
		BCRs: BCRCounts{
			ByPhase:      withZeroBuckets(byPhase, c.phaseBuckets()),
			ByStatus:     withZeroBuckets(byStatus, c.statusBuckets()),
			ByUrgency:    withZeroBuckets(byUrgency, UrgencyLevels),
			ByImpactArea: byImpactArea,
		},
		LastUpdated: time.Now(),
		TTL:         c.ttl,
	}

	c.setSnapshot(snap)

	c.log.Debug().
		Int("submissions_total", subs.Total).
		Int("phase_buckets", len(snap.BCRs.ByPhase)).
		Msg("counter cache refreshed")

	return snap, nil
}

// countDimension runs one aggregation query. A query error zeroes the bucket
// and the recompute continues; a timeout aborts the whole recompute so stale
// data is preferred over an all-zero snapshot.
func (c *CounterCache) countDimension(ctx context.Context, name string, fn func(context.Context) (map[string]int, error)) (map[string]int, error) {
	m, err := fn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTimeout, "counter refresh timed out")
		}
		c.log.Warn().Err(err).Str("dimension", name).Msg("counter aggregation failed; bucket zeroed")
		return map[string]int{}, nil
	}
	if m == nil {
		m = map[string]int{}
	}
	return m, nil
}

// keepPreviousOnError annotates and re-publishes the previous snapshot after
// a failed recompute. Previous good data is never discarded.
func (c *CounterCache) keepPreviousOnError(refreshErr error) (*CounterSnapshot, error) {
	prev := c.current()
	if prev == nil {
		return nil, refreshErr
	}

	out := prev.Clone()
	out.Error = true
	out.ErrorMessage = refreshErr.Error()
	c.setSnapshot(out)

	c.log.Warn().Err(refreshErr).Msg("counter refresh failed; serving previous snapshot")
	return out, nil
}

// ── Incremental patches ───────────────────────────────────────────────────────

// ApplyApproval patches the snapshot for a submission that was just approved
// into a BCR: approved up, pending down, and the new BCR's phase/status/
// urgency/impact-area buckets up. Only the affected buckets change.
func (c *CounterCache) ApplyApproval(ctx context.Context, submissionID, bcrID string) {
	if c.current() == nil {
		c.log.Warn().Str("submission_id", submissionID).Msg("counter patch skipped; no snapshot yet")
		return
	}

	bcr, err := c.bcrs.GetByID(ctx, bcrID)
	if err != nil {
		c.log.Warn().Err(err).Str("bcr_id", bcrID).Msg("counter patch skipped; could not read bcr")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshot.Clone()
	snap.Submissions.Approved++
	snap.Submissions.Pending = clampDec(snap.Submissions.Pending)
	snap.BCRs.ByPhase[bcr.CurrentPhase]++
	snap.BCRs.ByStatus[bcr.Status]++
	snap.BCRs.ByUrgency[bcr.UrgencyLevel]++
	for _, area := range bcr.ImpactedAreas {
		snap.BCRs.ByImpactArea[area]++
	}
	c.snapshot = snap
}

// ApplyRejection patches the snapshot for a submission that was just
// rejected: the matching rejection bucket up, pending down.
func (c *CounterCache) ApplyRejection(ctx context.Context, submissionID string) {
	if c.current() == nil {
		c.log.Warn().Str("submission_id", submissionID).Msg("counter patch skipped; no snapshot yet")
		return
	}

	outcome := repository.OutcomeRejected
	if sub, err := c.submissions.GetByID(ctx, submissionID); err != nil {
		c.log.Warn().Err(err).Str("submission_id", submissionID).Msg("counter patch: could not read submission; assuming rejected")
	} else if sub.ReviewOutcome != nil {
		outcome = *sub.ReviewOutcome
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.snapshot.Clone()
	if outcome == repository.OutcomeRejectedEdit {
		snap.Submissions.RejectedEdit++
	} else {
		snap.Submissions.Rejected++
	}
	snap.Submissions.Pending = clampDec(snap.Submissions.Pending)
	c.snapshot = snap
}

// Close stops background refresh work. Pending refreshes finish first.
func (c *CounterCache) Close() {
	c.closed.Store(true)
	c.wg.Wait()
}

// ── internals ─────────────────────────────────────────────────────────────────

func (c *CounterCache) current() *CounterSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

func (c *CounterCache) setSnapshot(snap *CounterSnapshot) {
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()
}

// scheduleRefresh kicks off a background refresh unless one is already
// running or the cache is shutting down.
func (c *CounterCache) scheduleRefresh() {
	if c.closed.Load() || c.refreshing.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Refresh(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("background counter refresh failed")
		}
	}()
}

func (c *CounterCache) phaseBuckets() []string {
	phases := c.registry.Phases()
	out := make([]string, 0, len(phases))
	for _, p := range phases {
		out = append(out, p.Name)
	}
	return out
}

func (c *CounterCache) statusBuckets() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, p := range c.registry.Phases() {
		for _, s := range []string{p.InProgressStatus, p.CompletedStatus} {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	for _, s := range []string{workflow.StatusPending, workflow.StatusSkipped, workflow.StatusRejected} {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// withZeroBuckets ensures every known bucket is present, so an empty slice of
// the data shows up as an explicit zero rather than a missing key.
func withZeroBuckets(m map[string]int, buckets []string) map[string]int {
	for _, b := range buckets {
		if _, ok := m[b]; !ok {
			m[b] = 0
		}
	}
	return m
}

func clampDec(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
