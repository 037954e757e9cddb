package logger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedLogger() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestWithOperation_AttachesCorrelationID(t *testing.T) {
	l, logs := observedLogger()

	l.WithOperation("snipe").Info("attempt started")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "snipe", fields["operation"])

	id, ok := fields["correlation_id"].(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "correlation_id must be a uuid")
}

func TestWithOperation_DistinctIDsPerOperation(t *testing.T) {
	l, logs := observedLogger()

	l.WithOperation("snipe").Info("first")
	l.WithOperation("snipe").Info("second")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotEqual(t,
		entries[0].ContextMap()["correlation_id"],
		entries[1].ContextMap()["correlation_id"])
}

func TestWithPool_TagsEntries(t *testing.T) {
	l, logs := observedLogger()

	l.WithPool("pool-addr").Warn("refresh failed")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "pool-addr", fields["pool_id"])
}

func TestNamed_KeepsPipelineHelpers(t *testing.T) {
	l, logs := observedLogger()

	l.Named("executor").WithOperation("snipe").Info("started")

	entry := logs.All()[0]
	assert.Equal(t, "executor", entry.LoggerName)
	assert.Contains(t, entry.ContextMap(), "correlation_id")
}
