package guardrails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gogetter/internal/store"
)

// ActivePlanLister is satisfied by *store.Store and *store.Tx.
type ActivePlanLister interface {
	ActivePlans(ctx context.Context, goGetterID int64) ([]store.ActivePlanRef, error)
}

// SnapshotActivePlans computes a hash of which plan is active for each of a
// go getter's targets. Returns the empty-set hash when none are active.
func SnapshotActivePlans(ctx context.Context, l ActivePlanLister, goGetterID int64) (string, error) {
	refs, err := l.ActivePlans(ctx, goGetterID)
	if err != nil {
		return "", fmt.Errorf("list active plans: %w", err)
	}
	lines := make([]string, 0, len(refs))
	for _, ref := range refs {
		lines = append(lines, fmt.Sprintf("%d:%d:%d", ref.TargetID, ref.PlanID, ref.Version))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		_, _ = h.Write([]byte(line))
		_, _ = h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsolationCheck captures before/after active plan snapshots around a step
// that must not change which plans are live.
type IsolationCheck struct {
	GoGetterID int64
	BeforeHash string
	AfterHash  string
}

// NewIsolationCheck captures the before snapshot.
func NewIsolationCheck(ctx context.Context, l ActivePlanLister, goGetterID int64) (*IsolationCheck, error) {
	before, err := SnapshotActivePlans(ctx, l, goGetterID)
	if err != nil {
		return nil, fmt.Errorf("capture before snapshot: %w", err)
	}
	return &IsolationCheck{GoGetterID: goGetterID, BeforeHash: before}, nil
}

// CaptureAfter captures the post-step snapshot.
func (c *IsolationCheck) CaptureAfter(ctx context.Context, l ActivePlanLister) error {
	after, err := SnapshotActivePlans(ctx, l, c.GoGetterID)
	if err != nil {
		return fmt.Errorf("capture after snapshot: %w", err)
	}
	c.AfterHash = after
	return nil
}

// HasChanges reports whether the active plan set moved.
func (c *IsolationCheck) HasChanges() bool {
	return c.BeforeHash != c.AfterHash
}

// BuildViolation creates a violation record for the audit log.
func BuildViolation(violationType string, details map[string]any) map[string]any {
	return map[string]any{
		"violation_type": violationType,
		"details":        details,
	}
}

// SanitizeError strips newlines and truncates error messages before they are
// persisted in JSON documents.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	if len(msg) > 500 {
		msg = msg[:497] + "..."
	}
	return msg
}
