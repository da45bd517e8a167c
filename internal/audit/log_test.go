package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gogetter/internal/goals"
)

func TestLogEventAndRecent(t *testing.T) {
	ctx := context.Background()
	l := NewLogger(filepath.Join(t.TempDir(), "audit", "events.db"), nil)

	opID, err := l.LogEvent(ctx, "admin", EventWizardCreated, map[string]int64{"wizard_id": 1})
	require.NoError(t, err)
	assert.NotEmpty(t, opID)
	l.Record(ctx, goals.Actor{Role: goals.RoleBestPal, ID: 4}, EventWizardConfirmed, map[string]int64{"group_id": 2})

	events, err := l.Recent(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventWizardConfirmed, events[0].Type)
	assert.Equal(t, "best_pal:4", events[0].Actor)
	assert.False(t, events[0].TS.IsZero())

	var payload map[string]int64
	require.NoError(t, json.Unmarshal([]byte(events[1].PayloadJSON), &payload))
	assert.Equal(t, int64(1), payload["wizard_id"])
	assert.Equal(t, opID, events[1].OperationID)

	filtered, err := l.Recent(ctx, 10, EventWizardCreated)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)
}

func TestRecordOnNilLogger(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Record(context.Background(), goals.System, EventJobStarted, nil)
	})
}
