package service

import (
	"context"
	"fmt"
	"time"

	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/events"
	"github.com/govforge/bcr-service/internal/lock"
	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/repository"
	"github.com/govforge/bcr-service/internal/workflow"
)

const (
	systemActor        = "System"
	defaultComment     = "Phase/status updated"
	autoAdvanceComment = "Automatically advanced to next phase"
	createdComment     = "BCR created from approved submission"
)

// EventPublisher is the outbound event surface the services consume.
type EventPublisher interface {
	Publish(ctx context.Context, event *events.WorkflowEvent)
}

// TransitionService is the phase transition engine. Every BCR mutation in the
// system goes through it: it validates transition targets against the
// registry, appends exactly one history entry per change, and auto-advances a
// BCR into the next phase once a phase-terminal status is reached.
//
// Operations on the same BCR are serialized through a per-id mutex; the
// store's single-statement append-and-update remains the consistency
// backstop underneath.
type TransitionService struct {
	bcrs        BCRStore
	submissions SubmissionStore
	registry    *workflow.Registry
	publisher   EventPublisher
	locks       *lock.MutexMap
	log         *logger.Logger
}

// NewTransitionService creates a new transition engine.
func NewTransitionService(
	bcrs BCRStore,
	submissions SubmissionStore,
	registry *workflow.Registry,
	publisher EventPublisher,
	log *logger.Logger,
) *TransitionService {
	return &TransitionService{
		bcrs:        bcrs,
		submissions: submissions,
		registry:    registry,
		publisher:   publisher,
		locks:       lock.NewMutexMap(),
		log:         log,
	}
}

// Transition applies a phase/status change to one BCR. The target phase and
// target status must each be known to the registry; the status is not
// required to belong to the target phase, matching the lenient behaviour the
// browse-and-update surface has always allowed. Reaching a phase-terminal
// status auto-advances the BCR into the next phase.
func (s *TransitionService) Transition(ctx context.Context, bcrID, targetPhase, targetStatus, comment, actor string) (*repository.BCR, error) {
	if !s.registry.KnownPhase(targetPhase) {
		return nil, errors.InvalidInput("phase", fmt.Sprintf("unknown phase '%s'", targetPhase))
	}
	if !s.registry.KnownStatus(targetStatus) {
		return nil, errors.InvalidInput("status", fmt.Sprintf("unknown status '%s'", targetStatus))
	}
	if comment == "" {
		comment = defaultComment
	}
	if actor == "" {
		actor = systemActor
	}

	s.locks.Lock(bcrID)
	defer s.locks.Unlock(bcrID)

	entry := repository.HistoryEntry{
		Phase:     targetPhase,
		Status:    targetStatus,
		Comment:   comment,
		UpdatedBy: actor,
		Timestamp: time.Now().UTC(),
	}

	bcr, err := s.bcrs.AppendHistoryAndUpdate(ctx, bcrID, targetPhase, targetStatus, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bcr_id", bcr.ID).
		Str("bcr_code", bcr.BCRCode).
		Str("phase", targetPhase).
		Str("status", targetStatus).
		Str("updated_by", actor).
		Msg("BCR transitioned")

	s.publisher.Publish(ctx, &events.WorkflowEvent{
		EventType: events.EventPhaseTransitioned,
		BCRID:     bcr.ID,
		BCRCode:   bcr.BCRCode,
		Phase:     targetPhase,
		Status:    targetStatus,
		ActorID:   actor,
	})

	if s.registry.IsPhaseTerminalStatus(targetPhase, targetStatus) {
		return s.autoAdvance(ctx, bcr)
	}
	return bcr, nil
}

// AutoAdvance promotes a BCR into the next phase when its current status
// completes or skips its current phase. A BCR that is not phase-terminal, or
// that is already at the last phase, is left untouched. This is not an error
// and no history entry is appended.
func (s *TransitionService) AutoAdvance(ctx context.Context, bcrID string) (*repository.BCR, error) {
	s.locks.Lock(bcrID)
	defer s.locks.Unlock(bcrID)

	bcr, err := s.bcrs.GetByID(ctx, bcrID)
	if err != nil {
		return nil, err
	}
	return s.autoAdvance(ctx, bcr)
}

// autoAdvance does the work of AutoAdvance. Callers hold the per-BCR lock.
func (s *TransitionService) autoAdvance(ctx context.Context, bcr *repository.BCR) (*repository.BCR, error) {
	if !s.registry.IsPhaseTerminalStatus(bcr.CurrentPhase, bcr.Status) {
		return bcr, nil
	}
	next, ok := s.registry.NextPhase(bcr.CurrentPhase)
	if !ok {
		return bcr, nil
	}

	entry := repository.HistoryEntry{
		Phase:     next.Name,
		Status:    next.InProgressStatus,
		Comment:   autoAdvanceComment,
		UpdatedBy: systemActor,
		Timestamp: time.Now().UTC(),
	}

	advanced, err := s.bcrs.AppendHistoryAndUpdate(ctx, bcr.ID, next.Name, next.InProgressStatus, entry)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bcr_id", advanced.ID).
		Str("bcr_code", advanced.BCRCode).
		Str("from_phase", bcr.CurrentPhase).
		Str("to_phase", next.Name).
		Msg("BCR auto-advanced")

	s.publisher.Publish(ctx, &events.WorkflowEvent{
		EventType: events.EventAutoAdvanced,
		BCRID:     advanced.ID,
		BCRCode:   advanced.BCRCode,
		Phase:     next.Name,
		Status:    next.InProgressStatus,
		ActorID:   systemActor,
	})

	return advanced, nil
}

// CreateFromApprovedSubmission promotes a submission into a BCR at the first
// phase of the workflow. Safe to call more than once for the same submission:
// when a BCR is already linked it is returned unchanged, so a retried
// approval never creates a duplicate or a second history seed.
func (s *TransitionService) CreateFromApprovedSubmission(ctx context.Context, submissionID, actor string) (*repository.BCR, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.Deleted() {
		return nil, errors.Conflict(fmt.Sprintf("submission %s has been deleted", submissionID))
	}

	if existing, err := s.bcrs.GetBySubmissionID(ctx, submissionID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	first, ok := s.registry.FirstPhase()
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal, "workflow registry has no phases")
	}
	if actor == "" {
		actor = systemActor
	}

	seed := repository.HistoryEntry{
		Phase:     first.Name,
		Status:    first.InProgressStatus,
		Comment:   createdComment,
		UpdatedBy: actor,
		Timestamp: time.Now().UTC(),
	}

	bcr, err := s.bcrs.Create(ctx, submissionID, first.Name, first.InProgressStatus, sub.UrgencyLevel, sub.ImpactAreas, seed)
	if err != nil {
		return nil, err
	}

	if err := s.submissions.LinkBCR(ctx, submissionID, bcr.ID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bcr_id", bcr.ID).
		Str("bcr_code", bcr.BCRCode).
		Str("submission_id", submissionID).
		Str("phase", first.Name).
		Msg("BCR created from submission")

	return bcr, nil
}
