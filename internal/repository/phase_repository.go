package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/govforge/bcr-service/internal/database"
	"github.com/govforge/bcr-service/internal/errors"
	"github.com/govforge/bcr-service/internal/workflow"
)

// PhaseRepository loads the workflow phase configuration. The core only reads
// this table; administrative CRUD on phases lives outside the service.
type PhaseRepository struct {
	db *database.DB
}

// NewPhaseRepository creates a new phase repository.
func NewPhaseRepository(db *database.DB) *PhaseRepository {
	return &PhaseRepository{db: db}
}

// List returns the configured phases ordered by display order.
func (r *PhaseRepository) List(ctx context.Context) ([]workflow.Phase, error) {
	query := `
		SELECT name, display_order, in_progress_status, completed_status
		FROM workflow_phases
		ORDER BY display_order ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list workflow phases")
	}
	defer rows.Close()

	phases := make([]workflow.Phase, 0)
	for rows.Next() {
		var p workflow.Phase
		if err := rows.Scan(&p.Name, &p.DisplayOrder, &p.InProgressStatus, &p.CompletedStatus); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan workflow phase")
		}
		phases = append(phases, p)
	}
	return phases, nil
}

// SeedDefaults inserts the default phase configuration when the table is
// empty. Existing rows are left untouched.
func (r *PhaseRepository) SeedDefaults(ctx context.Context) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_phases`).Scan(&count); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to count workflow phases")
		}
		if count > 0 {
			return nil
		}

		query := `
			INSERT INTO workflow_phases (name, display_order, in_progress_status, completed_status)
			VALUES ($1, $2, $3, $4)
		`
		for _, p := range workflow.DefaultPhases() {
			if _, err := tx.Exec(ctx, query, p.Name, p.DisplayOrder, p.InProgressStatus, p.CompletedStatus); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to seed workflow phase")
			}
		}
		return nil
	})
}

// LoadRegistry builds a registry snapshot from the store, seeding defaults
// first when the table is empty.
func (r *PhaseRepository) LoadRegistry(ctx context.Context) (*workflow.Registry, error) {
	if err := r.SeedDefaults(ctx); err != nil {
		return nil, err
	}
	phases, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return workflow.NewRegistry(phases), nil
}
