package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	"github.com/marketingops/experiments/pkg/clock"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

const recordSpendQuery = `
	INSERT INTO experiment_results (experiment_id, variant_id, date, spend, updated_at)
	VALUES ($1, $2, $3, $4, NOW())
	ON CONFLICT (experiment_id, variant_id, date) DO UPDATE SET
		spend = EXCLUDED.spend,
		roi = CASE
			WHEN EXCLUDED.spend > 0 THEN (experiment_results.revenue - EXCLUDED.spend) / EXCLUDED.spend
			ELSE 0
		END,
		updated_at = NOW()`

// ResultAdapter implements daily result persistence in Postgres
type ResultAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewResultAdapter creates a new result adapter
func NewResultAdapter(client *postgres.Client) *ResultAdapter {
	return &ResultAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Upsert writes the rollup for (experiment, variant, date). Spend of an
// existing row is preserved.
func (a *ResultAdapter) Upsert(ctx context.Context, result *entities.ExperimentResult) error {
	record := goqu.Record{
		"experiment_id":   result.ExperimentID,
		"variant_id":      result.VariantID,
		"date":            clock.StartOfDay(result.Date),
		"impressions":     result.Impressions,
		"clicks":          result.Clicks,
		"conversions":     result.Conversions,
		"spend":           result.Spend,
		"revenue":         result.Revenue,
		"conversion_rate": result.ConversionRate,
		"roi":             result.ROI,
		"updated_at":      goqu.L("NOW()"),
	}

	query, args, err := a.db.Insert("experiment_results").Prepared(true).
		Rows(record).
		OnConflict(goqu.DoUpdate("experiment_id, variant_id, date", goqu.Record{
			"impressions":     goqu.L("EXCLUDED.impressions"),
			"clicks":          goqu.L("EXCLUDED.clicks"),
			"conversions":     goqu.L("EXCLUDED.conversions"),
			"revenue":         goqu.L("EXCLUDED.revenue"),
			"conversion_rate": goqu.L("EXCLUDED.conversion_rate"),
			"roi":             goqu.L("EXCLUDED.roi"),
			"updated_at":      goqu.L("EXCLUDED.updated_at"),
		})).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build result upsert query", err)
	}
	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to upsert result", err)
	}
	return nil
}

// GetSpend returns recorded spend for a row, or 0 when the row does not exist
func (a *ResultAdapter) GetSpend(ctx context.Context, experimentID, variantID string, date time.Time) (float64, error) {
	var spend float64
	err := a.client.DB().QueryRowContext(ctx,
		"SELECT spend FROM experiment_results WHERE experiment_id = $1 AND variant_id = $2 AND date = $3",
		experimentID, variantID, clock.StartOfDay(date)).Scan(&spend)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.NewInternalError("failed to get spend", err)
	}
	return spend, nil
}

// RecordSpend sets spend for a row and refreshes its ROI
func (a *ResultAdapter) RecordSpend(ctx context.Context, experimentID, variantID string, date time.Time, spend float64) error {
	if _, err := a.client.DB().ExecContext(ctx, recordSpendQuery, experimentID, variantID, clock.StartOfDay(date), spend); err != nil {
		return apperrors.NewInternalError("failed to record spend", err)
	}
	return nil
}

// ListByExperiment retrieves all rows of an experiment ordered by date
func (a *ResultAdapter) ListByExperiment(ctx context.Context, experimentID string) ([]*entities.ExperimentResult, error) {
	rows, err := a.client.DB().QueryContext(ctx, `
		SELECT experiment_id, variant_id, date, impressions, clicks, conversions,
			spend, revenue, conversion_rate, roi
		FROM experiment_results
		WHERE experiment_id = $1
		ORDER BY date, variant_id`, experimentID)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list results", err)
	}
	defer rows.Close()

	var out []*entities.ExperimentResult
	for rows.Next() {
		r := &entities.ExperimentResult{}
		if err := rows.Scan(&r.ExperimentID, &r.VariantID, &r.Date, &r.Impressions, &r.Clicks,
			&r.Conversions, &r.Spend, &r.Revenue, &r.ConversionRate, &r.ROI); err != nil {
			return nil, apperrors.NewInternalError("failed to scan result", err)
		}
		r.Date = r.Date.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate results", err)
	}
	return out, nil
}
