package database

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/deepsoumya617/shoply/internal/config"
)

func TestPoolConfig(t *testing.T) {
	dc := &config.DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "shop", Database: "shoply", SSLMode: "disable",
		MaxOpenConns: 10, MaxIdleConns: 20, MaxIdleTime: time.Minute,
	}
	pcfg, err := poolConfig(dc)
	require.NoError(t, err)

	assert.Equal(t, int32(10), pcfg.MaxConns)
	assert.Equal(t, int32(10), pcfg.MinConns, "min conns never exceed max")
	assert.Equal(t, time.Minute, pcfg.MaxConnIdleTime)
	assert.Equal(t, "db.internal", pcfg.ConnConfig.Host)
	assert.Equal(t, uint16(5433), pcfg.ConnConfig.Port)
	assert.Equal(t, applicationName, pcfg.ConnConfig.RuntimeParams["application_name"])
}

func sampleCount(t *testing.T, operation, outcome string) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, queryDuration.WithLabelValues(operation, outcome).(prometheus.Metric).Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestQueryHookRecordsOutcome(t *testing.T) {
	h := &queryHook{log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	before := sampleCount(t, "SELECT", "error")
	h.AfterQuery(t.Context(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now(), Err: errors.New("conn reset")})
	assert.Equal(t, before+1, sampleCount(t, "SELECT", "error"))

	// No rows is a normal outcome.
	before = sampleCount(t, "SELECT", "ok")
	h.AfterQuery(t.Context(), &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now(), Err: sql.ErrNoRows})
	assert.Equal(t, before+1, sampleCount(t, "SELECT", "ok"))
}
