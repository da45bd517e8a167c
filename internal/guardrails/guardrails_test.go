package guardrails

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gogetter/internal/goals"
	"gogetter/internal/store/storetest"
)

type doc struct {
	Title string `json:"title"`
	Weeks []struct {
		WeekNumber int `json:"week_number"`
	} `json:"weeks"`
}

func TestDecodeStrict_Valid(t *testing.T) {
	var d doc
	err := DecodeStrict([]byte(`{"title":"Plan","weeks":[{"week_number":1}]}`), &d, "title", "weeks")
	if err != nil {
		t.Fatalf("DecodeStrict() failed for valid document: %v", err)
	}
	if d.Title != "Plan" || len(d.Weeks) != 1 {
		t.Errorf("unexpected decode result: %+v", d)
	}
}

func TestDecodeStrict_MissingField(t *testing.T) {
	var d doc
	err := DecodeStrict([]byte(`{"title":"Plan"}`), &d, "title", "weeks")
	if err == nil || !strings.Contains(err.Error(), "weeks") {
		t.Errorf("expected missing weeks error, got %v", err)
	}
}

func TestDecodeStrict_ExtraFields(t *testing.T) {
	var d doc
	err := DecodeStrict([]byte(`{"title":"Plan","weeks":[],"notes":"x"}`), &d, "title")
	if err == nil {
		t.Error("DecodeStrict() should reject unknown top-level fields")
	}
	err = DecodeStrict([]byte(`{"title":"Plan","weeks":[{"week_number":1,"mood":"ok"}]}`), &d, "title")
	if err == nil {
		t.Error("DecodeStrict() should reject unknown nested fields")
	}
}

func TestDecodeStrict_CodeFences(t *testing.T) {
	var d doc
	input := "```json\n{\"title\":\"Plan\",\"weeks\":[]}\n```"
	if err := DecodeStrict([]byte(input), &d, "title", "weeks"); err != nil {
		t.Fatalf("DecodeStrict() should tolerate code fences: %v", err)
	}
}

func TestDecodeStrict_TrailingData(t *testing.T) {
	var d doc
	if err := DecodeStrict([]byte(`{"title":"a","weeks":[]} {"title":"b"}`), &d); err == nil {
		t.Error("DecodeStrict() should reject trailing data")
	}
}

func TestIsolationCheck(t *testing.T) {
	ctx := context.Background()
	s := storetest.Open(t)
	gg, _ := storetest.GoGetter(t, s)
	target := storetest.Target(t, s, gg.ID, 4)
	storetest.Plan(t, s, target.ID, goals.PlanActive, time.Now(), 1)

	check, err := NewIsolationCheck(ctx, s, gg.ID)
	if err != nil {
		t.Fatalf("NewIsolationCheck: %v", err)
	}

	storetest.Plan(t, s, target.ID, goals.PlanDraft, time.Now(), 1)
	if err := check.CaptureAfter(ctx, s); err != nil {
		t.Fatalf("CaptureAfter: %v", err)
	}
	if check.HasChanges() {
		t.Error("a new draft must not change the active plan snapshot")
	}

	other := storetest.Target(t, s, gg.ID, 5)
	storetest.Plan(t, s, other.ID, goals.PlanActive, time.Now(), 1)
	if err := check.CaptureAfter(ctx, s); err != nil {
		t.Fatalf("CaptureAfter: %v", err)
	}
	if !check.HasChanges() {
		t.Error("a newly active plan must change the snapshot")
	}
}

func TestSanitizeError(t *testing.T) {
	if got := SanitizeError(nil); got != "" {
		t.Errorf("SanitizeError(nil) = %q", got)
	}
	if got := SanitizeError(errors.New("line1\nline2")); got != "line1 line2" {
		t.Errorf("SanitizeError() = %q", got)
	}
	long := SanitizeError(errors.New(strings.Repeat("x", 600)))
	if len(long) != 500 || !strings.HasSuffix(long, "...") {
		t.Errorf("SanitizeError() should truncate to 500 chars, got %d", len(long))
	}
}
