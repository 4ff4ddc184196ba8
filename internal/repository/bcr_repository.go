package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/govforge/bcr-service/internal/database"
	"github.com/govforge/bcr-service/internal/errors"
)

// BCRRepository handles BCR data operations.
type BCRRepository struct {
	db *database.DB
}

// NewBCRRepository creates a new BCR repository.
func NewBCRRepository(db *database.DB) *BCRRepository {
	return &BCRRepository{db: db}
}

const bcrColumns = `id, bcr_code, record_number, current_phase, status,
	       urgency_level, impacted_areas, submission_id, workflow_history,
	       created_at, updated_at`

// GetByID retrieves a BCR by primary key.
func (r *BCRRepository) GetByID(ctx context.Context, id string) (*BCR, error) {
	query := `
		SELECT ` + bcrColumns + `
		FROM bcrs
		WHERE id = $1
	`

	bcr, err := r.scanBCR(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("bcr", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get bcr")
	}
	return bcr, nil
}

// GetBySubmissionID returns the BCR linked to a submission, or nil when none
// exists yet.
func (r *BCRRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*BCR, error) {
	query := `
		SELECT ` + bcrColumns + `
		FROM bcrs
		WHERE submission_id = $1
	`

	bcr, err := r.scanBCR(r.db.QueryRow(ctx, query, submissionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get bcr by submission")
	}
	return bcr, nil
}

// Create inserts a BCR for a submission, seeding its workflow history with
// one entry. Idempotent: when a BCR already exists for the submission the
// existing record is returned unchanged, so retried approvals never create
// duplicates. Record number allocation and the insert run in one transaction.
func (r *BCRRepository) Create(ctx context.Context, submissionID, initialPhase, initialStatus, urgencyLevel string, impactedAreas []string, seed HistoryEntry) (*BCR, error) {
	var bcr *BCR

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		existingQuery := `
			SELECT ` + bcrColumns + `
			FROM bcrs
			WHERE submission_id = $1
		`
		existing, err := r.scanBCR(tx.QueryRow(ctx, existingQuery, submissionID))
		if err == nil {
			bcr = existing
			return nil
		}
		if err != pgx.ErrNoRows {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check for existing bcr")
		}

		var recordNumber int64
		if err := tx.QueryRow(ctx, `SELECT nextval('bcr_record_number_seq')`).Scan(&recordNumber); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to allocate record number")
		}

		historyJSON, err := json.Marshal([]HistoryEntry{seed})
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal workflow history")
		}

		insertQuery := `
			INSERT INTO bcrs (bcr_code, record_number, current_phase, status,
			                  urgency_level, impacted_areas, submission_id, workflow_history)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING ` + bcrColumns + `
		`
		created, err := r.scanBCR(tx.QueryRow(ctx, insertQuery,
			FormatBCRCode(recordNumber, seed.Timestamp),
			recordNumber,
			initialPhase,
			initialStatus,
			urgencyLevel,
			impactedAreas,
			submissionID,
			historyJSON,
		))
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create bcr")
		}

		bcr = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bcr, nil
}

// AppendHistoryAndUpdate sets the phase/status and appends one history entry
// in a single UPDATE, so readers never observe the fields changed without the
// history entry or vice versa.
func (r *BCRRepository) AppendHistoryAndUpdate(ctx context.Context, id, newPhase, newStatus string, entry HistoryEntry) (*BCR, error) {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history entry")
	}

	query := `
		UPDATE bcrs
		SET current_phase    = $2,
		    status           = $3,
		    workflow_history = workflow_history || $4::jsonb,
		    updated_at       = NOW()
		WHERE id = $1
		RETURNING ` + bcrColumns + `
	`

	bcr, err := r.scanBCR(r.db.QueryRow(ctx, query, id, newPhase, newStatus, entryJSON))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("bcr", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update bcr")
	}
	return bcr, nil
}

// ListRecent returns the most recently updated BCRs, newest first.
func (r *BCRRepository) ListRecent(ctx context.Context, limit int) ([]*BCR, error) {
	query := `
		SELECT ` + bcrColumns + `
		FROM bcrs
		ORDER BY updated_at DESC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list recent bcrs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListActive returns BCRs still moving through the workflow, oldest first.
// Rejected BCRs and BCRs that completed the final phase are excluded.
func (r *BCRRepository) ListActive(ctx context.Context, limit int) ([]*BCR, error) {
	query := `
		SELECT ` + bcrColumns + `
		FROM bcrs
		WHERE status NOT IN ('Rejected', 'Implemented')
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list active bcrs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// List retrieves BCRs with filtering and pagination.
func (r *BCRRepository) List(ctx context.Context, phase, status, urgency *string, limit, offset int) ([]*BCR, int64, error) {
	query := `
		SELECT ` + bcrColumns + `
		FROM bcrs
		WHERE TRUE
	`
	countQuery := `SELECT COUNT(*) FROM bcrs WHERE TRUE`

	args := []any{}
	argCount := 1

	if phase != nil {
		query += fmt.Sprintf(" AND current_phase = $%d", argCount)
		countQuery += fmt.Sprintf(" AND current_phase = $%d", argCount)
		args = append(args, *phase)
		argCount++
	}

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *status)
		argCount++
	}

	if urgency != nil {
		query += fmt.Sprintf(" AND urgency_level = $%d", argCount)
		countQuery += fmt.Sprintf(" AND urgency_level = $%d", argCount)
		args = append(args, *urgency)
		argCount++
	}

	query += " ORDER BY record_number DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count bcrs")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list bcrs")
	}
	defer rows.Close()

	bcrs, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return bcrs, total, nil
}

// ── Aggregations ──────────────────────────────────────────────────────────────

// CountsByPhase returns BCR counts grouped by current phase.
func (r *BCRRepository) CountsByPhase(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `
		SELECT current_phase, COUNT(*)
		FROM bcrs
		GROUP BY current_phase
	`, "failed to count bcrs by phase")
}

// CountsByStatus returns BCR counts grouped by status.
func (r *BCRRepository) CountsByStatus(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `
		SELECT status, COUNT(*)
		FROM bcrs
		GROUP BY status
	`, "failed to count bcrs by status")
}

// CountsByUrgency returns BCR counts grouped by urgency level.
func (r *BCRRepository) CountsByUrgency(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `
		SELECT urgency_level, COUNT(*)
		FROM bcrs
		GROUP BY urgency_level
	`, "failed to count bcrs by urgency")
}

// CountsByImpactArea returns counts per impact-area occurrence. A BCR that
// names an area more than once counts once per occurrence.
func (r *BCRRepository) CountsByImpactArea(ctx context.Context) (map[string]int, error) {
	return r.countsBy(ctx, `
		SELECT area, COUNT(*)
		FROM bcrs, unnest(impacted_areas) AS area
		GROUP BY area
	`, "failed to count bcrs by impact area")
}

func (r *BCRRepository) countsBy(ctx context.Context, query, errMsg string) (map[string]int, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, errMsg)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, errMsg)
		}
		counts[key] = count
	}
	return counts, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *BCRRepository) scanRows(rows pgx.Rows) ([]*BCR, error) {
	bcrs := make([]*BCR, 0)
	for rows.Next() {
		bcr, err := r.scanBCR(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan bcr")
		}
		bcrs = append(bcrs, bcr)
	}
	return bcrs, nil
}

type bcrScanner interface {
	Scan(dest ...any) error
}

func (r *BCRRepository) scanBCR(sc bcrScanner) (*BCR, error) {
	bcr := &BCR{}
	var historyJSON []byte

	err := sc.Scan(
		&bcr.ID,
		&bcr.BCRCode,
		&bcr.RecordNumber,
		&bcr.CurrentPhase,
		&bcr.Status,
		&bcr.UrgencyLevel,
		&bcr.ImpactedAreas,
		&bcr.SubmissionID,
		&historyJSON,
		&bcr.CreatedAt,
		&bcr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if historyJSON != nil {
		if err := json.Unmarshal(historyJSON, &bcr.History); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal workflow history")
		}
	}

	return bcr, nil
}

// FormatBCRCode derives the human code from a record number and creation
// time. Fiscal years run April to March: BCR-25/26-001.
func FormatBCRCode(recordNumber int64, at time.Time) string {
	year := at.Year()
	if at.Month() < time.April {
		year--
	}
	return fmt.Sprintf("BCR-%02d/%02d-%03d", year%100, (year+1)%100, recordNumber)
}
