package service

import (
	"context"
	"fmt"

	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/events"
	"github.com/govforge/bcr-service/internal/logger"
	"github.com/govforge/bcr-service/internal/repository"
)

// ReviewService handles submission review decisions. Approval promotes the
// submission into a BCR through the transition engine and patches the counter
// cache incrementally; rejection records the outcome and patches the cache;
// the remaining outcomes only record the decision.
type ReviewService struct {
	submissions SubmissionStore
	engine      *TransitionService
	cache       *CounterCache
	publisher   EventPublisher
	log         *logger.Logger
}

// NewReviewService creates a new review service.
func NewReviewService(
	submissions SubmissionStore,
	engine *TransitionService,
	cache *CounterCache,
	publisher EventPublisher,
	log *logger.Logger,
) *ReviewService {
	return &ReviewService{
		submissions: submissions,
		engine:      engine,
		cache:       cache,
		publisher:   publisher,
		log:         log,
	}
}

var validOutcomes = map[string]bool{
	repository.OutcomePendingReview: true,
	repository.OutcomeApproved:      true,
	repository.OutcomeRejected:      true,
	repository.OutcomeMoreInfo:      true,
	repository.OutcomePaused:        true,
	repository.OutcomeRejectedEdit:  true,
}

// ReviewSubmission records a review decision on a submission and returns the
// BCR when the decision was an approval.
func (s *ReviewService) ReviewSubmission(ctx context.Context, submissionID, outcome, actor, comment string) (*repository.BCR, error) {
	if !validOutcomes[outcome] {
		return nil, errors.InvalidInput("outcome", fmt.Sprintf("unknown review outcome '%s'", outcome))
	}

	switch outcome {
	case repository.OutcomeApproved:
		return s.approve(ctx, submissionID, actor)
	case repository.OutcomeRejected, repository.OutcomeRejectedEdit:
		return nil, s.reject(ctx, submissionID, outcome, actor, comment)
	default:
		if err := s.submissions.UpdateReviewOutcome(ctx, submissionID, outcome); err != nil {
			return nil, err
		}
		s.log.Info().
			Str("submission_id", submissionID).
			Str("outcome", outcome).
			Str("reviewed_by", actor).
			Msg("Submission review outcome recorded")
		return nil, nil
	}
}

func (s *ReviewService) approve(ctx context.Context, submissionID, actor string) (*repository.BCR, error) {
	bcr, err := s.engine.CreateFromApprovedSubmission(ctx, submissionID, actor)
	if err != nil {
		return nil, err
	}

	s.cache.ApplyApproval(ctx, submissionID, bcr.ID)

	s.log.Info().
		Str("submission_id", submissionID).
		Str("bcr_id", bcr.ID).
		Str("bcr_code", bcr.BCRCode).
		Str("reviewed_by", actor).
		Msg("Submission approved")

	s.publisher.Publish(ctx, &events.WorkflowEvent{
		EventType:    events.EventSubmissionApproved,
		BCRID:        bcr.ID,
		BCRCode:      bcr.BCRCode,
		SubmissionID: submissionID,
		ActorID:      actor,
	})

	return bcr, nil
}

func (s *ReviewService) reject(ctx context.Context, submissionID, outcome, actor, reason string) error {
	if reason == "" {
		return errors.InvalidInput("comment", "rejection reason is required")
	}

	if err := s.submissions.UpdateReviewOutcome(ctx, submissionID, outcome); err != nil {
		return err
	}

	s.cache.ApplyRejection(ctx, submissionID)

	s.log.Info().
		Str("submission_id", submissionID).
		Str("outcome", outcome).
		Str("reviewed_by", actor).
		Msg("Submission rejected")

	s.publisher.Publish(ctx, &events.WorkflowEvent{
		EventType:    events.EventSubmissionRejected,
		SubmissionID: submissionID,
		ActorID:      actor,
		Payload:      map[string]any{"reason": reason, "outcome": outcome},
	})

	return nil
}
