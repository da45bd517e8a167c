package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiSendsToAll(t *testing.T) {
	a := &Recorder{}
	b := &Recorder{Err: errors.New("offline")}
	c := &Recorder{}

	err := Multi{a, b, c}.Send(context.Background(), "t", "m")
	assert.EqualError(t, err, "offline")
	assert.Len(t, a.Messages(), 1)
	assert.Len(t, c.Messages(), 1)
}

func TestDisabledDesktopIsNoop(t *testing.T) {
	assert.NoError(t, (&Desktop{}).Send(context.Background(), "t", "m"))
}

func TestFormatReplan(t *testing.T) {
	title, msg := FormatReplan("Summer", "target_added", 2, 1)
	assert.Equal(t, "⚠️ Re-plan incomplete", title)
	assert.Equal(t, "Summer (target_added): 2 plan(s) updated, 1 failed", msg)

	title, _ = FormatReplan("Summer", "target_added", 2, 0)
	assert.Equal(t, "🔄 Plans updated", title)
}

func TestFormatGroupConfirmed(t *testing.T) {
	_, msg := FormatGroupConfirmed("Summer", 3)
	assert.Equal(t, "Summer: 3 plan(s) are now active", msg)
}
