package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/govforge/bcr-service/internal/database"
	"github.com/govforge/bcr-service/internal/errors"
)

// SubmissionRepository handles submission data operations. Soft-deleted
// submissions are excluded from every read except GetByID, which surfaces the
// deletion marker so callers can reject promotion explicitly.
type SubmissionRepository struct {
	db *database.DB
}

// NewSubmissionRepository creates a new submission repository.
func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `id, submission_code, requested_by, justification,
	       urgency_level, impact_areas, review_outcome, bcr_id, deleted_at,
	       created_at, updated_at`

// GetByID retrieves a submission, including soft-deleted ones.
func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE id = $1
	`

	sub, err := r.scanSubmission(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("submission", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get submission")
	}
	return sub, nil
}

// UpdateReviewOutcome records the review decision on a submission.
func (r *SubmissionRepository) UpdateReviewOutcome(ctx context.Context, id, outcome string) error {
	query := `
		UPDATE submissions
		SET review_outcome = $2,
		    updated_at     = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, outcome).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("submission", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update review outcome")
	}
	return nil
}

// LinkBCR stores the back-reference to the BCR created from this submission
// and marks it approved.
func (r *SubmissionRepository) LinkBCR(ctx context.Context, id, bcrID string) error {
	query := `
		UPDATE submissions
		SET bcr_id         = $2,
		    review_outcome = 'Approved',
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, bcrID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("submission", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to link bcr to submission")
	}
	return nil
}

// ListUnreviewed returns submissions still awaiting a review decision,
// oldest first.
func (r *SubmissionRepository) ListUnreviewed(ctx context.Context, limit int) ([]*Submission, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE deleted_at IS NULL
		  AND bcr_id IS NULL
		  AND (review_outcome IS NULL OR review_outcome = 'Pending Review')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list unreviewed submissions")
	}
	defer rows.Close()

	subs := make([]*Submission, 0)
	for rows.Next() {
		sub, err := r.scanSubmission(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan submission")
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// Counts aggregates submissions by review outcome in one pass. A submission
// with a linked BCR counts as approved even when the outcome field is stale;
// pending means no outcome recorded and no BCR yet.
func (r *SubmissionRepository) Counts(ctx context.Context) (SubmissionCounts, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE bcr_id IS NULL
		                          AND (review_outcome IS NULL OR review_outcome = 'Pending Review')),
		       COUNT(*) FILTER (WHERE bcr_id IS NOT NULL OR review_outcome = 'Approved'),
		       COUNT(*) FILTER (WHERE review_outcome = 'Rejected'),
		       COUNT(*) FILTER (WHERE review_outcome = 'More Info'),
		       COUNT(*) FILTER (WHERE review_outcome = 'Paused'),
		       COUNT(*) FILTER (WHERE review_outcome = 'Rejected & Edit')
		FROM submissions
		WHERE deleted_at IS NULL
	`

	var counts SubmissionCounts
	err := r.db.QueryRow(ctx, query).Scan(
		&counts.Total,
		&counts.Pending,
		&counts.Approved,
		&counts.Rejected,
		&counts.MoreInfo,
		&counts.Paused,
		&counts.RejectedEdit,
	)
	if err != nil {
		return SubmissionCounts{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to count submissions")
	}
	return counts, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type submissionScanner interface {
	Scan(dest ...any) error
}

func (r *SubmissionRepository) scanSubmission(sc submissionScanner) (*Submission, error) {
	sub := &Submission{}
	err := sc.Scan(
		&sub.ID,
		&sub.SubmissionCode,
		&sub.RequestedBy,
		&sub.Justification,
		&sub.UrgencyLevel,
		&sub.ImpactAreas,
		&sub.ReviewOutcome,
		&sub.BCRID,
		&sub.DeletedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
