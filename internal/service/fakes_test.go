package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/events"
	"github.com/govforge/bcr-service/internal/repository"
)

// fakeBCRStore is an in-memory BCRStore with spy counters on the
// aggregation queries.
type fakeBCRStore struct {
	mu   sync.Mutex
	bcrs map[string]*repository.BCR
	next int64

	phaseCounts      map[string]int
	statusCounts     map[string]int
	urgencyCounts    map[string]int
	impactAreaCounts map[string]int

	phaseErr error

	aggregationDelay time.Duration
	aggregationCalls atomic.Int32
}

func newFakeBCRStore() *fakeBCRStore {
	return &fakeBCRStore{
		bcrs:             make(map[string]*repository.BCR),
		phaseCounts:      map[string]int{},
		statusCounts:     map[string]int{},
		urgencyCounts:    map[string]int{},
		impactAreaCounts: map[string]int{},
	}
}

func (f *fakeBCRStore) put(bcr *repository.BCR) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bcrs[bcr.ID] = bcr
}

func (f *fakeBCRStore) GetByID(ctx context.Context, id string) (*repository.BCR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bcr, ok := f.bcrs[id]
	if !ok {
		return nil, errors.NotFound("bcr", id)
	}
	return cloneBCR(bcr), nil
}

func (f *fakeBCRStore) GetBySubmissionID(ctx context.Context, submissionID string) (*repository.BCR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bcr := range f.bcrs {
		if bcr.SubmissionID == submissionID {
			return cloneBCR(bcr), nil
		}
	}
	return nil, nil
}

func (f *fakeBCRStore) Create(ctx context.Context, submissionID, initialPhase, initialStatus, urgencyLevel string, impactedAreas []string, seed repository.HistoryEntry) (*repository.BCR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, bcr := range f.bcrs {
		if bcr.SubmissionID == submissionID {
			return cloneBCR(bcr), nil
		}
	}
	f.next++
	bcr := &repository.BCR{
		ID:            fmt.Sprintf("bcr-%d", f.next),
		BCRCode:       repository.FormatBCRCode(f.next, seed.Timestamp),
		RecordNumber:  f.next,
		CurrentPhase:  initialPhase,
		Status:        initialStatus,
		UrgencyLevel:  urgencyLevel,
		ImpactedAreas: impactedAreas,
		SubmissionID:  submissionID,
		History:       []repository.HistoryEntry{seed},
		CreatedAt:     seed.Timestamp,
		UpdatedAt:     seed.Timestamp,
	}
	f.bcrs[bcr.ID] = bcr
	return cloneBCR(bcr), nil
}

func (f *fakeBCRStore) AppendHistoryAndUpdate(ctx context.Context, id, newPhase, newStatus string, entry repository.HistoryEntry) (*repository.BCR, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bcr, ok := f.bcrs[id]
	if !ok {
		return nil, errors.NotFound("bcr", id)
	}
	bcr.CurrentPhase = newPhase
	bcr.Status = newStatus
	bcr.History = append(bcr.History, entry)
	bcr.UpdatedAt = entry.Timestamp
	return cloneBCR(bcr), nil
}

func (f *fakeBCRStore) ListRecent(ctx context.Context, limit int) ([]*repository.BCR, error) {
	return f.list(limit), nil
}

func (f *fakeBCRStore) ListActive(ctx context.Context, limit int) ([]*repository.BCR, error) {
	return f.list(limit), nil
}

func (f *fakeBCRStore) list(limit int) []*repository.BCR {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*repository.BCR, 0, limit)
	for _, bcr := range f.bcrs {
		if len(out) == limit {
			break
		}
		out = append(out, cloneBCR(bcr))
	}
	return out
}

func (f *fakeBCRStore) CountsByPhase(ctx context.Context) (map[string]int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	if f.phaseErr != nil {
		return nil, f.phaseErr
	}
	return copyCounts(f.phaseCounts), nil
}

func (f *fakeBCRStore) CountsByStatus(ctx context.Context) (map[string]int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return copyCounts(f.statusCounts), nil
}

func (f *fakeBCRStore) CountsByUrgency(ctx context.Context) (map[string]int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return copyCounts(f.urgencyCounts), nil
}

func (f *fakeBCRStore) CountsByImpactArea(ctx context.Context) (map[string]int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return copyCounts(f.impactAreaCounts), nil
}

func (f *fakeBCRStore) wait(ctx context.Context) error {
	f.aggregationCalls.Add(1)
	if f.aggregationDelay == 0 {
		return nil
	}
	select {
	case <-time.After(f.aggregationDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneBCR(bcr *repository.BCR) *repository.BCR {
	out := *bcr
	out.History = append([]repository.HistoryEntry(nil), bcr.History...)
	out.ImpactedAreas = append([]string(nil), bcr.ImpactedAreas...)
	return &out
}

// fakeSubmissionStore is an in-memory SubmissionStore with a spy counter on
// the aggregation query.
type fakeSubmissionStore struct {
	mu          sync.Mutex
	submissions map[string]*repository.Submission

	counts     repository.SubmissionCounts
	countsErr  error
	countCalls atomic.Int32
}

func newFakeSubmissionStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{submissions: make(map[string]*repository.Submission)}
}

func (f *fakeSubmissionStore) put(sub *repository.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions[sub.ID] = sub
}

func (f *fakeSubmissionStore) GetByID(ctx context.Context, id string) (*repository.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return nil, errors.NotFound("submission", id)
	}
	out := *sub
	return &out, nil
}

func (f *fakeSubmissionStore) UpdateReviewOutcome(ctx context.Context, id, outcome string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return errors.NotFound("submission", id)
	}
	sub.ReviewOutcome = &outcome
	return nil
}

func (f *fakeSubmissionStore) LinkBCR(ctx context.Context, id, bcrID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.submissions[id]
	if !ok {
		return errors.NotFound("submission", id)
	}
	approved := repository.OutcomeApproved
	sub.BCRID = &bcrID
	sub.ReviewOutcome = &approved
	return nil
}

func (f *fakeSubmissionStore) ListUnreviewed(ctx context.Context, limit int) ([]*repository.Submission, error) {
	return []*repository.Submission{}, nil
}

func (f *fakeSubmissionStore) Counts(ctx context.Context) (repository.SubmissionCounts, error) {
	f.countCalls.Add(1)
	if f.countsErr != nil {
		return repository.SubmissionCounts{}, f.countsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []*events.WorkflowEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event *events.WorkflowEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) byType(eventType string) []*events.WorkflowEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*events.WorkflowEvent{}
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
