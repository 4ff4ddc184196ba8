package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/events"
	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/repository"
	"github.com/govforge/bcr-service/internal/workflow"
)

func newTestEngine() (*TransitionService, *fakeBCRStore, *fakeSubmissionStore, *fakePublisher) {
	bcrs := newFakeBCRStore()
	subs := newFakeSubmissionStore()
	publisher := &fakePublisher{}
	registry := workflow.NewRegistry(workflow.DefaultPhases())
	engine := NewTransitionService(bcrs, subs, registry, publisher, logger.Nop())
	return engine, bcrs, subs, publisher
}

func seedBCR(bcrs *fakeBCRStore, id, phase, status string) {
	bcrs.put(&repository.BCR{
		ID:           id,
		BCRCode:      "BCR-25/26-001",
		CurrentPhase: phase,
		Status:       status,
		UrgencyLevel: "Medium",
		History: []repository.HistoryEntry{{
			Phase:     phase,
			Status:    status,
			Comment:   "BCR created from approved submission",
			UpdatedBy: "reviewer@example.gov.uk",
			Timestamp: time.Now().UTC(),
		}},
	})
}

func TestTransition_AppendsSingleHistoryEntry(t *testing.T) {
	engine, bcrs, _, publisher := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Submission", "Submitted")

	bcr, err := engine.Transition(context.Background(), "bcr-1", "Initial Assessment", "In Progress", "picked up", "alice@example.gov.uk")
	require.NoError(t, err)

	assert.Equal(t, "Initial Assessment", bcr.CurrentPhase)
	assert.Equal(t, "In Progress", bcr.Status)
	require.Len(t, bcr.History, 2)

	last := bcr.History[len(bcr.History)-1]
	assert.Equal(t, "Initial Assessment", last.Phase)
	assert.Equal(t, "In Progress", last.Status)
	assert.Equal(t, "picked up", last.Comment)
	assert.Equal(t, "alice@example.gov.uk", last.UpdatedBy)
	assert.False(t, last.Timestamp.IsZero())

	assert.Len(t, publisher.byType(events.EventPhaseTransitioned), 1)
	assert.Empty(t, publisher.byType(events.EventAutoAdvanced))
}

func TestTransition_DefaultsCommentAndActor(t *testing.T) {
	engine, bcrs, _, _ := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Submission", "Submitted")

	bcr, err := engine.Transition(context.Background(), "bcr-1", "Initial Assessment", "In Progress", "", "")
	require.NoError(t, err)

	last := bcr.History[len(bcr.History)-1]
	assert.Equal(t, "Phase/status updated", last.Comment)
	assert.Equal(t, "System", last.UpdatedBy)
}

func TestTransition_UnknownPhaseRejected(t *testing.T) {
	engine, bcrs, _, publisher := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Submission", "Submitted")

	_, err := engine.Transition(context.Background(), "bcr-1", "Vibes Check", "In Progress", "", "alice")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))

	// Nothing written, nothing published.
	bcr, err := bcrs.GetByID(context.Background(), "bcr-1")
	require.NoError(t, err)
	assert.Len(t, bcr.History, 1)
	assert.Empty(t, publisher.byType(events.EventPhaseTransitioned))
}

func TestTransition_UnknownStatusRejected(t *testing.T) {
	engine, bcrs, _, _ := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Submission", "Submitted")

	_, err := engine.Transition(context.Background(), "bcr-1", "Initial Assessment", "Percolating", "", "alice")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
}

func TestTransition_StatusNotRequiredToBelongToPhase(t *testing.T) {
	engine, bcrs, _, _ := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Submission", "Submitted")

	// "Approved" belongs to Approval Process but is a known status, so it is
	// accepted on any phase. It does not complete Detailed Analysis, so no
	// auto-advance happens.
	bcr, err := engine.Transition(context.Background(), "bcr-1", "Detailed Analysis", "Approved", "", "alice")
	require.NoError(t, err)

	assert.Equal(t, "Detailed Analysis", bcr.CurrentPhase)
	assert.Equal(t, "Approved", bcr.Status)
	assert.Len(t, bcr.History, 2)
}

func TestTransition_CompletedStatusAutoAdvances(t *testing.T) {
	engine, bcrs, _, publisher := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Implementation", "In Progress")

	bcr, err := engine.Transition(context.Background(), "bcr-1", "Implementation", "Completed", "deployment finished", "bob@example.gov.uk")
	require.NoError(t, err)

	assert.Equal(t, "Testing", bcr.CurrentPhase)
	assert.Equal(t, "In Progress", bcr.Status)
	require.Len(t, bcr.History, 3)

	completed := bcr.History[1]
	assert.Equal(t, "Implementation", completed.Phase)
	assert.Equal(t, "Completed", completed.Status)
	assert.Equal(t, "bob@example.gov.uk", completed.UpdatedBy)

	advanced := bcr.History[2]
	assert.Equal(t, "Testing", advanced.Phase)
	assert.Equal(t, "In Progress", advanced.Status)
	assert.Equal(t, "System", advanced.UpdatedBy)
	assert.Equal(t, "Automatically advanced to next phase", advanced.Comment)

	assert.Len(t, publisher.byType(events.EventPhaseTransitioned), 1)
	assert.Len(t, publisher.byType(events.EventAutoAdvanced), 1)
}

func TestTransition_SkippedStatusAutoAdvances(t *testing.T) {
	engine, bcrs, _, _ := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Documentation", "In Progress")

	bcr, err := engine.Transition(context.Background(), "bcr-1", "Documentation", "Skipped", "covered by existing docs", "alice")
	require.NoError(t, err)

	assert.Equal(t, "Approval Process", bcr.CurrentPhase)
	assert.Equal(t, "In Progress", bcr.Status)
	assert.Len(t, bcr.History, 3)
}

func TestAutoAdvance_NoOpWhenNotTerminal(t *testing.T) {
	engine, bcrs, _, publisher := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Testing", "In Progress")

	bcr, err := engine.AutoAdvance(context.Background(), "bcr-1")
	require.NoError(t, err)

	assert.Equal(t, "Testing", bcr.CurrentPhase)
	assert.Len(t, bcr.History, 1)
	assert.Empty(t, publisher.byType(events.EventAutoAdvanced))
}

func TestAutoAdvance_NoOpAtLastPhase(t *testing.T) {
	engine, bcrs, _, publisher := newTestEngine()
	seedBCR(bcrs, "bcr-1", "Go Live", "Implemented")

	bcr, err := engine.AutoAdvance(context.Background(), "bcr-1")
	require.NoError(t, err)

	assert.Equal(t, "Go Live", bcr.CurrentPhase)
	assert.Equal(t, "Implemented", bcr.Status)
	assert.Len(t, bcr.History, 1)
	assert.Empty(t, publisher.byType(events.EventAutoAdvanced))
}

func TestAutoAdvance_NotFound(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	_, err := engine.AutoAdvance(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestCreateFromApprovedSubmission(t *testing.T) {
	engine, _, subs, _ := newTestEngine()
	subs.put(&repository.Submission{
		ID:           "sub-1",
		UrgencyLevel: "High",
		ImpactAreas:  []string{"Funding"},
	})

	bcr, err := engine.CreateFromApprovedSubmission(context.Background(), "sub-1", "reviewer@example.gov.uk")
	require.NoError(t, err)

	assert.Equal(t, "Submission", bcr.CurrentPhase)
	assert.Equal(t, "Submitted", bcr.Status)
	assert.Equal(t, "High", bcr.UrgencyLevel)
	assert.Equal(t, []string{"Funding"}, bcr.ImpactedAreas)
	assert.Equal(t, "sub-1", bcr.SubmissionID)

	require.Len(t, bcr.History, 1)
	seed := bcr.History[0]
	assert.Equal(t, "Submission", seed.Phase)
	assert.Equal(t, "Submitted", seed.Status)
	assert.Equal(t, "BCR created from approved submission", seed.Comment)
	assert.Equal(t, "reviewer@example.gov.uk", seed.UpdatedBy)

	sub, err := subs.GetByID(context.Background(), "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub.BCRID)
	assert.Equal(t, bcr.ID, *sub.BCRID)
	require.NotNil(t, sub.ReviewOutcome)
	assert.Equal(t, repository.OutcomeApproved, *sub.ReviewOutcome)
}

func TestCreateFromApprovedSubmission_Idempotent(t *testing.T) {
	engine, _, subs, _ := newTestEngine()
	subs.put(&repository.Submission{ID: "sub-1", UrgencyLevel: "Low"})

	first, err := engine.CreateFromApprovedSubmission(context.Background(), "sub-1", "reviewer")
	require.NoError(t, err)

	second, err := engine.CreateFromApprovedSubmission(context.Background(), "sub-1", "reviewer")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BCRCode, second.BCRCode)
	assert.Len(t, second.History, 1)
}

func TestCreateFromApprovedSubmission_DeletedSubmission(t *testing.T) {
	engine, _, subs, _ := newTestEngine()
	deletedAt := time.Now().UTC()
	subs.put(&repository.Submission{ID: "sub-1", DeletedAt: &deletedAt})

	_, err := engine.CreateFromApprovedSubmission(context.Background(), "sub-1", "reviewer")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestCreateFromApprovedSubmission_NotFound(t *testing.T) {
	engine, _, _, _ := newTestEngine()

	_, err := engine.CreateFromApprovedSubmission(context.Background(), "missing", "reviewer")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestBCRCodeUsesFiscalYear(t *testing.T) {
	engine, _, subs, _ := newTestEngine()
	subs.put(&repository.Submission{ID: "sub-1", UrgencyLevel: "High"})

	bcr, err := engine.CreateFromApprovedSubmission(context.Background(), "sub-1", "reviewer")
	require.NoError(t, err)

	want := repository.FormatBCRCode(1, time.Now().UTC())
	assert.Equal(t, want, bcr.BCRCode)
}
