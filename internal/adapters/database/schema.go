package database

import (
	"context"

	"github.com/marketingops/experiments/internal/infrastructure/clients/postgres"
	apperrors "github.com/marketingops/experiments/pkg/errors"
)

// Schema contains the DDL for the experiment tables. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id                        TEXT PRIMARY KEY,
    org_id                    TEXT NOT NULL,
    created_by                TEXT NOT NULL,
    name                      TEXT NOT NULL,
    description               TEXT,
    experiment_type           TEXT NOT NULL,
    entity_type               TEXT,
    entity_id                 TEXT,
    metric                    TEXT NOT NULL,
    metrics                   TEXT[] NOT NULL DEFAULT '{}',
    hypothesis                TEXT,
    duration_days             INTEGER NOT NULL DEFAULT 14,
    sample_size_per_variant   INTEGER NOT NULL DEFAULT 0,
    confidence_level          DOUBLE PRECISION NOT NULL DEFAULT 95,
    minimum_detectable_effect DOUBLE PRECISION NOT NULL DEFAULT 0,
    traffic_allocation        TEXT NOT NULL DEFAULT 'hash',
    config                    JSONB NOT NULL DEFAULT '{}',
    status                    TEXT NOT NULL DEFAULT 'draft',
    started_at                TIMESTAMPTZ,
    scheduled_end_at          TIMESTAMPTZ,
    ended_at                  TIMESTAMPTZ,
    stop_reason               TEXT,
    winner_variant_id         TEXT,
    statistical_significance  JSONB,
    created_at                TIMESTAMPTZ NOT NULL,
    updated_at                TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiments_org ON experiments(org_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_experiments_running ON experiments(status, scheduled_end_at);

CREATE TABLE IF NOT EXISTS experiment_variants (
    id                        TEXT PRIMARY KEY,
    experiment_id             TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    name                      TEXT NOT NULL,
    description               TEXT,
    is_control                BOOLEAN NOT NULL DEFAULT FALSE,
    traffic_percentage        DOUBLE PRECISION NOT NULL DEFAULT 0,
    config                    JSONB NOT NULL DEFAULT '{}',
    impressions               BIGINT NOT NULL DEFAULT 0,
    clicks                    BIGINT NOT NULL DEFAULT 0,
    conversions               BIGINT NOT NULL DEFAULT 0,
    revenue                   DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversion_rate           DOUBLE PRECISION NOT NULL DEFAULT 0,
    improvement_over_control  DOUBLE PRECISION,
    confidence_interval_lower DOUBLE PRECISION,
    confidence_interval_upper DOUBLE PRECISION,
    status                    TEXT NOT NULL DEFAULT 'active',
    created_at                TIMESTAMPTZ NOT NULL,
    updated_at                TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_experiment_variants_control
    ON experiment_variants(experiment_id) WHERE is_control;

CREATE TABLE IF NOT EXISTS experiment_events (
    id            TEXT PRIMARY KEY,
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    variant_id    TEXT NOT NULL REFERENCES experiment_variants(id) ON DELETE CASCADE,
    event_type    TEXT NOT NULL,
    user_id       TEXT,
    session_id    TEXT,
    value         DOUBLE PRECISION,
    properties    JSONB NOT NULL DEFAULT '{}',
    occurred_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_experiment_events_window ON experiment_events(experiment_id, occurred_at);

CREATE TABLE IF NOT EXISTS experiment_results (
    experiment_id   TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    variant_id      TEXT NOT NULL REFERENCES experiment_variants(id) ON DELETE CASCADE,
    date            DATE NOT NULL,
    impressions     BIGINT NOT NULL DEFAULT 0,
    clicks          BIGINT NOT NULL DEFAULT 0,
    conversions     BIGINT NOT NULL DEFAULT 0,
    spend           DOUBLE PRECISION NOT NULL DEFAULT 0,
    revenue         DOUBLE PRECISION NOT NULL DEFAULT 0,
    conversion_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    roi             DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (experiment_id, variant_id, date)
);

CREATE TABLE IF NOT EXISTS experiment_assignments (
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    subject_id    TEXT NOT NULL,
    variant_id    TEXT NOT NULL REFERENCES experiment_variants(id) ON DELETE CASCADE,
    assigned_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (experiment_id, subject_id)
);
`

// Migrate applies Schema
func Migrate(ctx context.Context, client *postgres.Client) error {
	if _, err := client.DB().ExecContext(ctx, Schema); err != nil {
		return apperrors.NewInternalError("failed to apply schema", err)
	}
	return nil
}
