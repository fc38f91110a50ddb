package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ExperimentsConfig(t *testing.T) {
	t.Setenv("EXPERIMENTS_DEFAULT_ALGORITHM", "adaptive")
	t.Setenv("EXPERIMENTS_DEFAULT_CONFIDENCE", "99")
	t.Setenv("EXPERIMENTS_AGGREGATION_INTERVAL", "15m")
	t.Setenv("EXPERIMENTS_STORAGE", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "adaptive", cfg.Experiments.DefaultAlgorithm)
	assert.Equal(t, 99.0, cfg.Experiments.DefaultConfidenceLevel)
	assert.Equal(t, 15*time.Minute, cfg.Experiments.AggregationInterval)
	assert.Equal(t, "memory", cfg.Experiments.StorageBackend)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EXPERIMENTS_DEFAULT_ALGORITHM", "")
	t.Setenv("EXPERIMENTS_DEFAULT_CONFIDENCE", "not-a-number")
	t.Setenv("DB_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "hash", cfg.Experiments.DefaultAlgorithm)
	assert.Equal(t, 95.0, cfg.Experiments.DefaultConfidenceLevel)
	assert.Equal(t, 14, cfg.Experiments.DefaultDurationDays)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.True(t, cfg.Experiments.PersistAssignments)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "experiments", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=experiments sslmode=require", c.DatabaseDSN())

	r := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", r.RedisAddr())
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://console.example.com, ,https://admin.example.com ")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://console.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)

	t.Setenv("ALLOWED_ORIGINS", "")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.AllowedOrigins)
}
