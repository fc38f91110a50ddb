package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// saveAssignmentQuery inserts unless a row exists and returns whichever
// variant is now recorded. Both branches read the same snapshot.
const saveAssignmentQuery = `
	WITH inserted AS (
		INSERT INTO experiment_assignments (experiment_id, subject_id, variant_id, assigned_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (experiment_id, subject_id) DO NOTHING
		RETURNING variant_id
	)
	SELECT variant_id FROM inserted
	UNION ALL
	SELECT variant_id FROM experiment_assignments WHERE experiment_id = $1 AND subject_id = $2
	LIMIT 1`

// AssignmentAdapter records first assignments in Postgres
type AssignmentAdapter struct {
	client *postgres.Client
}

// NewAssignmentAdapter creates a new assignment adapter
func NewAssignmentAdapter(client *postgres.Client) *AssignmentAdapter {
	return &AssignmentAdapter{client: client}
}

// Get returns the recorded variant for a subject
func (a *AssignmentAdapter) Get(ctx context.Context, experimentID, subjectID string) (string, error) {
	var variantID string
	err := a.client.DB().QueryRowContext(ctx,
		"SELECT variant_id FROM experiment_assignments WHERE experiment_id = $1 AND subject_id = $2",
		experimentID, subjectID).Scan(&variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.NewNotFoundError(fmt.Sprintf("no assignment for subject %s", subjectID))
	}
	if err != nil {
		return "", apperrors.NewInternalError("failed to get assignment", err)
	}
	return variantID, nil
}

// SaveIfAbsent records variantID unless the subject is already assigned
func (a *AssignmentAdapter) SaveIfAbsent(ctx context.Context, experimentID, subjectID, variantID string) (string, error) {
	var recorded string
	err := a.client.DB().QueryRowContext(ctx, saveAssignmentQuery, experimentID, subjectID, variantID).Scan(&recorded)
	if err != nil {
		return "", apperrors.NewInternalError("failed to save assignment", err)
	}
	return recorded, nil
}
