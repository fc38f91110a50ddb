package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

var variantColumns = []string{
	"id", "experiment_id", "name", "description", "is_control", "traffic_percentage",
	"config", "impressions", "clicks", "conversions", "revenue", "conversion_rate",
	"improvement_over_control", "confidence_interval_lower", "confidence_interval_upper",
	"status", "created_at", "updated_at",
}

var variantReturning = strings.Join(variantColumns, ", ")

// incrementCountersQuery applies a delta in a single statement; the row lock
// serializes concurrent writers to one variant.
const incrementCountersQuery = `
	UPDATE experiment_variants SET
		impressions = impressions + $2,
		clicks = clicks + $3,
		conversions = conversions + $4,
		revenue = revenue + $5,
		conversion_rate = CASE
			WHEN impressions + $2 > 0 THEN (conversions + $4)::double precision / (impressions + $2)
			ELSE 0
		END,
		updated_at = NOW()
	WHERE id = $1
	RETURNING `

// VariantAdapter implements variant persistence in Postgres
type VariantAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewVariantAdapter creates a new variant adapter
func NewVariantAdapter(client *postgres.Client) *VariantAdapter {
	return &VariantAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

func scanVariant(row rowScanner) (*entities.ExperimentVariant, error) {
	var (
		v                         entities.ExperimentVariant
		description               sql.NullString
		improvement, lower, upper sql.NullFloat64
		status                    string
	)
	err := row.Scan(
		&v.ID, &v.ExperimentID, &v.Name, &description, &v.IsControl, &v.TrafficPercentage,
		&v.Config, &v.Impressions, &v.Clicks, &v.Conversions, &v.Revenue, &v.ConversionRate,
		&improvement, &lower, &upper,
		&status, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Description = description.String
	v.ImprovementOverControl = floatPtr(improvement)
	v.ConfidenceIntervalLow = floatPtr(lower)
	v.ConfidenceIntervalHigh = floatPtr(upper)
	v.Status = entities.VariantStatus(status)
	return &v, nil
}

// Create inserts a variant row
func (a *VariantAdapter) Create(ctx context.Context, variant *entities.ExperimentVariant) error {
	record := goqu.Record{
		"id":                        variant.ID,
		"experiment_id":             variant.ExperimentID,
		"name":                      variant.Name,
		"description":               nullString(variant.Description),
		"is_control":                variant.IsControl,
		"traffic_percentage":        variant.TrafficPercentage,
		"config":                    variant.Config,
		"impressions":               variant.Impressions,
		"clicks":                    variant.Clicks,
		"conversions":               variant.Conversions,
		"revenue":                   variant.Revenue,
		"conversion_rate":           variant.ConversionRate,
		"improvement_over_control":  nullFloatPtr(variant.ImprovementOverControl),
		"confidence_interval_lower": nullFloatPtr(variant.ConfidenceIntervalLow),
		"confidence_interval_upper": nullFloatPtr(variant.ConfidenceIntervalHigh),
		"status":                    string(variant.Status),
		"created_at":                variant.CreatedAt,
		"updated_at":                variant.UpdatedAt,
	}

	query, args, err := a.db.Insert("experiment_variants").Prepared(true).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build variant insert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create variant", err)
	}
	return nil
}

// GetByID retrieves a variant by ID
func (a *VariantAdapter) GetByID(ctx context.Context, id string) (*entities.ExperimentVariant, error) {
	query := "SELECT " + variantReturning + " FROM experiment_variants WHERE id = $1"
	v, err := scanVariant(a.client.DB().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("variant with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get variant", err)
	}
	return v, nil
}

// ListByExperiment retrieves all variants of an experiment, control first
func (a *VariantAdapter) ListByExperiment(ctx context.Context, experimentID string) ([]*entities.ExperimentVariant, error) {
	query := "SELECT " + variantReturning + " FROM experiment_variants WHERE experiment_id = $1 ORDER BY is_control DESC, created_at, id"
	rows, err := a.client.DB().QueryContext(ctx, query, experimentID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list variants", err)
	}
	defer rows.Close()

	var out []*entities.ExperimentVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan variant", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate variants", err)
	}
	return out, nil
}

// Update writes the descriptive fields, traffic share and status. Counters are untouched.
func (a *VariantAdapter) Update(ctx context.Context, variant *entities.ExperimentVariant) error {
	query, args, err := a.db.Update("experiment_variants").Prepared(true).
		Set(goqu.Record{
			"name":               variant.Name,
			"description":        nullString(variant.Description),
			"traffic_percentage": variant.TrafficPercentage,
			"config":             variant.Config,
			"status":             string(variant.Status),
			"updated_at":         variant.UpdatedAt,
		}).
		Where(goqu.C("id").Eq(variant.ID)).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build variant update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update variant", err)
	}
	return requireAffected(result, "variant", variant.ID)
}

// UpdateTraffic sets several traffic shares atomically
func (a *VariantAdapter) UpdateTraffic(ctx context.Context, shares map[string]float64) error {
	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to begin traffic update", err)
	}
	defer func() { _ = tx.Rollback() }()

	for id, pct := range shares {
		result, err := tx.ExecContext(ctx,
			"UPDATE experiment_variants SET traffic_percentage = $2, updated_at = NOW() WHERE id = $1", id, pct)
		if err != nil {
			return apperrors.NewInternalError("failed to update variant traffic", err)
		}
		if err := requireAffected(result, "variant", id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit traffic update", err)
	}
	return nil
}

// IncrementCounters atomically applies delta and returns the updated row
func (a *VariantAdapter) IncrementCounters(ctx context.Context, id string, delta entities.CounterDelta) (*entities.ExperimentVariant, error) {
	row := a.client.DB().QueryRowContext(ctx, incrementCountersQuery+variantReturning,
		id, delta.Impressions, delta.Clicks, delta.Conversions, delta.Revenue)
	v, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("variant with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to increment variant counters", err)
	}
	return v, nil
}

// UpdateStatistics writes improvement and confidence interval columns
func (a *VariantAdapter) UpdateStatistics(ctx context.Context, variant *entities.ExperimentVariant) error {
	result, err := a.client.DB().ExecContext(ctx, `
		UPDATE experiment_variants SET
			improvement_over_control = $2,
			confidence_interval_lower = $3,
			confidence_interval_upper = $4,
			updated_at = NOW()
		WHERE id = $1`,
		variant.ID,
		nullFloatPtr(variant.ImprovementOverControl),
		nullFloatPtr(variant.ConfidenceIntervalLow),
		nullFloatPtr(variant.ConfidenceIntervalHigh),
	)
	if err != nil {
		return apperrors.NewInternalError("failed to update variant statistics", err)
	}
	return requireAffected(result, "variant", variant.ID)
}
