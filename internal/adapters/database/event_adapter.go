package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/marketingops/experiments/internal/domain/entities"
	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

const sumByVariantQuery = `
	SELECT variant_id,
		COUNT(*) FILTER (WHERE event_type = 'impression'),
		COUNT(*) FILTER (WHERE event_type = 'click'),
		COUNT(*) FILTER (WHERE event_type = 'conversion'),
		COALESCE(SUM(value) FILTER (WHERE event_type = 'conversion'), 0)
	FROM experiment_events
	WHERE experiment_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	GROUP BY variant_id`

// EventAdapter implements the append-only event log in Postgres
type EventAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewEventAdapter creates a new event adapter
func NewEventAdapter(client *postgres.Client) *EventAdapter {
	return &EventAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Append inserts an event and bumps its variant's counters in one transaction
func (a *EventAdapter) Append(ctx context.Context, event *entities.ExperimentEvent, delta entities.CounterDelta) error {
	record := goqu.Record{
		"id":            event.ID,
		"experiment_id": event.ExperimentID,
		"variant_id":    event.VariantID,
		"event_type":    string(event.EventType),
		"user_id":       nullStringPtr(event.UserID),
		"session_id":    nullStringPtr(event.SessionID),
		"value":         nullFloatPtr(event.Value),
		"properties":    event.Properties,
		"occurred_at":   event.OccurredAt,
	}

	query, args, err := a.db.Insert("experiment_events").Prepared(true).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build event insert query", err)
	}

	tx, err := a.client.BeginTx(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to begin event append", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to append event", err)
	}
	if !delta.IsZero() {
		var id string
		err := tx.QueryRowContext(ctx, incrementCountersQuery+"id",
			event.VariantID, delta.Impressions, delta.Clicks, delta.Conversions, delta.Revenue).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NewNotFoundError(fmt.Sprintf("variant with id %s not found", event.VariantID))
		}
		if err != nil {
			return apperrors.NewInternalError("failed to increment variant counters", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit event append", err)
	}
	return nil
}

// SumByVariant totals events in [from, to) per variant
func (a *EventAdapter) SumByVariant(ctx context.Context, experimentID string, from, to time.Time) (map[string]entities.EventCounts, error) {
	rows, err := a.client.DB().QueryContext(ctx, sumByVariantQuery, experimentID, from, to)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to sum events", err)
	}
	defer rows.Close()

	out := make(map[string]entities.EventCounts)
	for rows.Next() {
		var (
			variantID string
			c         entities.EventCounts
		)
		if err := rows.Scan(&variantID, &c.Impressions, &c.Clicks, &c.Conversions, &c.Revenue); err != nil {
			return nil, apperrors.NewInternalError("failed to scan event sums", err)
		}
		out[variantID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate event sums", err)
	}
	return out, nil
}
