package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gogetter/internal/goals"
)

const validDraft = `{"title":"Fractions","overview":"o","weeks":[{"week_number":1,"title":"W1","description":"d",
"tasks":[{"day_of_week":0,"sequence_in_day":1,"title":"t","description":"","estimated_minutes":30,"task_type":"math","xp_reward":30,"is_optional":false}]}]}`

func request(t *testing.T) DraftRequest {
	t.Helper()
	start, err := goals.ParseDay("2025-06-02")
	require.NoError(t, err)
	return DraftRequest{
		GoGetterName:  "Robin",
		Grade:         "5",
		Target:        goals.Target{ID: 1, Title: "Fractions", Subject: "Math"},
		Start:         start,
		End:           start.AddDate(0, 0, 20),
		DailyMinutes:  45,
		PreferredDays: []int{4, 0, 2},
	}
}

func TestParseDraft(t *testing.T) {
	d, err := ParseDraft([]byte(validDraft))
	require.NoError(t, err)
	assert.Equal(t, "Fractions", d.Title)
	require.Len(t, d.Weeks, 1)
	assert.Equal(t, 30, d.Weeks[0].Tasks[0].EstimatedMinutes)

	_, err = ParseDraft([]byte(`{"title":"x","weeks":[]}`))
	assert.Error(t, err, "a draft needs at least one week")

	_, err = ParseDraft([]byte(`{"title":"x","weeks":[{"week_number":1,"title":"w","tasks":[{"day_of_week":9,"title":"t","estimated_minutes":5}]}]}`))
	assert.Error(t, err, "day_of_week is 0..6")

	_, err = ParseDraft([]byte(`{"title":"x","weeks":[],"score":1}`))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestMockDrafterIsDeterministic(t *testing.T) {
	m := &MockDrafter{}
	req := request(t)

	first, err := m.Draft(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Draft(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, m.Calls())

	require.Len(t, first.Weeks, 3)
	require.Len(t, first.Weeks[0].Tasks, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{
		first.Weeks[0].Tasks[0].DayOfWeek,
		first.Weeks[0].Tasks[1].DayOfWeek,
		first.Weeks[0].Tasks[2].DayOfWeek,
	})
	assert.Equal(t, 45, first.Weeks[0].Tasks[0].EstimatedMinutes)
	assert.NoError(t, ValidateDraft(first))
}

func TestMockDrafterFailure(t *testing.T) {
	boom := errors.New("drafting unavailable")
	m := &MockDrafter{Fail: func(DraftRequest) error { return boom }}
	_, err := m.Draft(context.Background(), request(t))
	assert.ErrorIs(t, err, boom)
}

func chatServer(t *testing.T, replies ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": replies[n]},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAIDraftRetriesUnparseableResponses(t *testing.T) {
	srv, calls := chatServer(t, "not json", validDraft)
	client, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test-model", RequestsPerSecond: 100, Burst: 10}, nil)
	require.NoError(t, err)

	d, err := client.Draft(context.Background(), request(t))
	require.NoError(t, err)
	assert.Equal(t, "Fractions", d.Title)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIDraftGivesUpAfterThreeAttempts(t *testing.T) {
	srv, calls := chatServer(t, "nope")
	client, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", RequestsPerSecond: 100, Burst: 10}, nil)
	require.NoError(t, err)

	_, err = client.Draft(context.Background(), request(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAIExplain(t *testing.T) {
	srv, _ := chatServer(t, `["Pick a longer window.","Fine."]`)
	client, err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", RequestsPerSecond: 100, Burst: 10}, nil)
	require.NoError(t, err)

	out, err := client.Explain(context.Background(), []goals.Risk{
		{Code: goals.RiskSpanTooShort, Level: goals.LevelBlocker, Message: "short"},
		{Code: goals.RiskTooFewDays, Level: goals.LevelWarning, Message: "few"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Pick a longer window.", "Fine."}, out)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{}, nil)
	assert.Error(t, err)
}

func TestBuildPlanPrompt(t *testing.T) {
	req := request(t)
	req.ExtraInstructions = "Maintain continuity."
	prompt := buildPlanPrompt(req)
	assert.Contains(t, prompt, "Preferred study days: Monday, Wednesday, Friday")
	assert.Contains(t, prompt, "(3 week(s))")
	assert.Contains(t, prompt, "Extra instructions: Maintain continuity.")
}
