package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/domain/repositories"
	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

var experimentColumns = []string{
	"id", "org_id", "created_by", "name", "description", "experiment_type",
	"entity_type", "entity_id", "metric", "metrics", "hypothesis",
	"duration_days", "sample_size_per_variant", "confidence_level",
	"minimum_detectable_effect", "traffic_allocation", "config", "status",
	"started_at", "scheduled_end_at", "ended_at", "stop_reason",
	"winner_variant_id", "statistical_significance", "created_at", "updated_at",
}

var experimentSelect = "SELECT " + strings.Join(experimentColumns, ", ") + " FROM experiments"

// ExperimentAdapter implements experiment persistence in Postgres
type ExperimentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewExperimentAdapter creates a new experiment adapter
func NewExperimentAdapter(client *postgres.Client) *ExperimentAdapter {
	return &ExperimentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func experimentRecord(e *entities.Experiment) goqu.Record {
	return goqu.Record{
		"id":                        e.ID,
		"org_id":                    e.OrgID,
		"created_by":                e.CreatedBy,
		"name":                      e.Name,
		"description":               nullString(e.Description),
		"experiment_type":           e.ExperimentType,
		"entity_type":               nullStringPtr(e.EntityType),
		"entity_id":                 nullStringPtr(e.EntityID),
		"metric":                    e.Metric,
		"metrics":                   pq.StringArray(e.Metrics),
		"hypothesis":                nullString(e.Hypothesis),
		"duration_days":             e.DurationDays,
		"sample_size_per_variant":   e.SampleSizePerVariant,
		"confidence_level":          e.ConfidenceLevel,
		"minimum_detectable_effect": e.MinimumDetectableEffect,
		"traffic_allocation":        string(e.TrafficAllocation),
		"config":                    e.Config,
		"status":                    string(e.Status),
		"started_at":                nullTimePtr(e.StartedAt),
		"scheduled_end_at":          nullTimePtr(e.ScheduledEndAt),
		"ended_at":                  nullTimePtr(e.EndedAt),
		"stop_reason":               nullString(e.StopReason),
		"winner_variant_id":         nullStringPtr(e.WinnerVariantID),
		"statistical_significance":  e.Significance,
		"created_at":                e.CreatedAt,
		"updated_at":                e.UpdatedAt,
	}
}

func scanExperiment(row rowScanner) (*entities.Experiment, error) {
	var (
		e                                   entities.Experiment
		description, hypothesis, stopReason sql.NullString
		entityType, entityID, winner        sql.NullString
		metrics                             pq.StringArray
		startedAt, scheduledEndAt, endedAt  sql.NullTime
		allocation, status                  string
		significance                        []byte
	)
	err := row.Scan(
		&e.ID, &e.OrgID, &e.CreatedBy, &e.Name, &description, &e.ExperimentType,
		&entityType, &entityID, &e.Metric, &metrics, &hypothesis,
		&e.DurationDays, &e.SampleSizePerVariant, &e.ConfidenceLevel,
		&e.MinimumDetectableEffect, &allocation, &e.Config, &status,
		&startedAt, &scheduledEndAt, &endedAt, &stopReason,
		&winner, &significance, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Description = description.String
	e.Hypothesis = hypothesis.String
	e.StopReason = stopReason.String
	e.EntityType = stringPtr(entityType)
	e.EntityID = stringPtr(entityID)
	e.WinnerVariantID = stringPtr(winner)
	e.Metrics = []string(metrics)
	e.StartedAt = timePtr(startedAt)
	e.ScheduledEndAt = timePtr(scheduledEndAt)
	e.EndedAt = timePtr(endedAt)
	e.TrafficAllocation = entities.AllocationAlgorithm(allocation)
	e.Status = entities.ExperimentStatus(status)
	if len(significance) > 0 {
		report := &entities.SignificanceReport{}
		if err := report.Scan(significance); err != nil {
			return nil, err
		}
		e.Significance = report
	}
	return &e, nil
}

func (a *ExperimentAdapter) query(ctx context.Context, query string, args ...any) ([]*entities.Experiment, error) {
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to query experiments", err)
	}
	defer rows.Close()

	var out []*entities.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan experiment", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate experiments", err)
	}
	return out, nil
}

// Create inserts an experiment row
func (a *ExperimentAdapter) Create(ctx context.Context, experiment *entities.Experiment) error {
	if experiment == nil {
		return apperrors.NewInternalError("experiment is nil", fmt.Errorf("experiment is nil"))
	}

	query, args, err := a.db.Insert("experiments").Prepared(true).Rows(experimentRecord(experiment)).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build experiment insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create experiment", err)
	}
	return nil
}

// GetByID retrieves an experiment by ID
func (a *ExperimentAdapter) GetByID(ctx context.Context, id string) (*entities.Experiment, error) {
	e, err := scanExperiment(a.client.DB().QueryRowContext(ctx, experimentSelect+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("experiment with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get experiment", err)
	}
	return e, nil
}

// Update rewrites every mutable column of an experiment
func (a *ExperimentAdapter) Update(ctx context.Context, experiment *entities.Experiment) error {
	record := experimentRecord(experiment)
	delete(record, "id")
	delete(record, "org_id")
	delete(record, "created_by")
	delete(record, "created_at")

	query, args, err := a.db.Update("experiments").Prepared(true).
		Set(record).
		Where(goqu.C("id").Eq(experiment.ID)).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build experiment update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update experiment", err)
	}
	return requireAffected(result, "experiment", experiment.ID)
}

// Delete removes an experiment; child rows cascade
func (a *ExperimentAdapter) Delete(ctx context.Context, id string) error {
	result, err := a.client.DB().ExecContext(ctx, "DELETE FROM experiments WHERE id = $1", id)
	if err != nil {
		return apperrors.NewInternalError("failed to delete experiment", err)
	}
	return requireAffected(result, "experiment", id)
}

// List retrieves an organization's experiments, newest first
func (a *ExperimentAdapter) List(ctx context.Context, orgID string, filter repositories.ExperimentFilter) ([]*entities.Experiment, error) {
	ds := a.db.From("experiments").Prepared(true).
		Select(columnsAsAny(experimentColumns)...).
		Where(goqu.C("org_id").Eq(orgID))

	if filter.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(filter.Status)))
	}
	if filter.ExperimentType != "" {
		ds = ds.Where(goqu.C("experiment_type").Eq(filter.ExperimentType))
	}
	if filter.EntityType != "" {
		ds = ds.Where(goqu.C("entity_type").Eq(filter.EntityType))
	}
	if filter.EntityID != "" {
		ds = ds.Where(goqu.C("entity_id").Eq(filter.EntityID))
	}
	ds = ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build experiment list query", err)
	}
	return a.query(ctx, query, args...)
}

// ListRunning retrieves every running experiment
func (a *ExperimentAdapter) ListRunning(ctx context.Context) ([]*entities.Experiment, error) {
	return a.query(ctx, experimentSelect+" WHERE status = $1 ORDER BY started_at, id", string(entities.ExperimentStatusRunning))
}

// ListExpired retrieves running experiments past their scheduled end
func (a *ExperimentAdapter) ListExpired(ctx context.Context, now time.Time) ([]*entities.Experiment, error) {
	return a.query(ctx,
		experimentSelect+" WHERE status = $1 AND scheduled_end_at IS NOT NULL AND scheduled_end_at <= $2 ORDER BY scheduled_end_at, id",
		string(entities.ExperimentStatusRunning), now,
	)
}

// CountByStatus counts an organization's experiments per status
func (a *ExperimentAdapter) CountByStatus(ctx context.Context, orgID string) (map[entities.ExperimentStatus]int, error) {
	rows, err := a.client.DB().QueryContext(ctx,
		"SELECT status, COUNT(*) FROM experiments WHERE org_id = $1 GROUP BY status", orgID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to count experiments", err)
	}
	defer rows.Close()

	counts := make(map[entities.ExperimentStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.NewInternalError("failed to scan experiment count", err)
		}
		counts[entities.ExperimentStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate experiment counts", err)
	}
	return counts, nil
}

// CountWithWinner counts experiments that recorded a winner
func (a *ExperimentAdapter) CountWithWinner(ctx context.Context, orgID string) (int, error) {
	var n int
	err := a.client.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM experiments WHERE org_id = $1 AND winner_variant_id IS NOT NULL", orgID).Scan(&n)
	if err != nil {
		return 0, apperrors.NewInternalError("failed to count experiments with winner", err)
	}
	return n, nil
}

func requireAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to read affected rows", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("%s with id %s not found", kind, id))
	}
	return nil
}
