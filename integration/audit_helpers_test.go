package integration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gogetter/integration/harness"
)

// requireAuditEvents reads the audit trail through the CLI and checks that
// each wanted event type was recorded at least once.
func requireAuditEvents(t *testing.T, binPath, workDir string, args []string, want ...string) {
	t.Helper()
	var events []struct {
		Type  string `json:"type"`
		Actor string `json:"actor"`
	}
	harness.RunJSON(t, binPath, workDir, append([]string{"audit", "tail", "--limit", "500"}, args...), &events)

	seen := make(map[string]int, len(events))
	for _, e := range events {
		seen[e.Type]++
	}
	for _, eventType := range want {
		assert.Positive(t, seen[eventType], "missing audit event %s", eventType)
	}
}
