package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chitterchatter/portal/core"
	"github.com/chitterchatter/portal/core/user"
)

func newTestLogger(t *testing.T) (*RollbarLogger, *observer.ObservedLogs) {
	t.Helper()
	zcore, logs := observer.New(zapcore.DebugLevel)
	logger := NewRollbarLogger(zap.New(zcore), &core.Config{Env: "TEST", Build: "test"})
	logger.Enable(false)
	return logger, logs
}

func TestRollbarLogger(t *testing.T) {
	logger, logs := newTestLogger(t)

	usr := user.Record{ID: 7, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	logger.Warn("loading classes", errors.New("boom"), usr, map[string]interface{}{"path": "/api/students/classes"})
	logger.Debug("plain")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	warn := entries[0]
	assert.Equal(t, zapcore.WarnLevel, warn.Level)
	assert.Equal(t, "loading classes", warn.Message)
	fields := warn.ContextMap()
	assert.Equal(t, int64(7), fields["user_id"])
	assert.Equal(t, "boom", fields["error"])
	assert.Equal(t, "/api/students/classes", fields["path"])

	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Empty(t, entries[1].ContextMap())
}

func TestRollbarLoggerPlainArgs(t *testing.T) {
	logger, logs := newTestLogger(t)

	logger.Info("session store", "redis", 3)

	entries := logs.AllUntimed()
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Context, 2, "each argument gets its own key")
	fields := entries[0].ContextMap()
	assert.Equal(t, "redis", fields["arg0"])
	assert.Equal(t, int64(3), fields["arg1"])
}

func TestNewZap(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"debug", false},
		{"INFO", false},
		{"warn", false},
		{"loud", true},
	}

	for _, tc := range tests {
		t.Run(tc.level, func(t *testing.T) {
			logger, err := NewZap(tc.level, false)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}
