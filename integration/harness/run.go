package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// Run executes the CLI in workDir and returns stdout, stderr and the exit
// code. Failing to start the process fails the test.
func Run(t *testing.T, binPath, workDir string, args []string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(binPath, args...)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		require.True(t, errors.As(err, &exitErr), "start %s: %v", binPath, err)
		code = exitErr.ExitCode()
	}
	return stdout.String(), stderr.String(), code
}

// RunJSON runs the CLI, requires success and decodes stdout into out when
// out is non-nil.
func RunJSON(t *testing.T, binPath, workDir string, args []string, out any) {
	t.Helper()
	stdout, stderr, code := Run(t, binPath, workDir, args)
	require.Zero(t, code, "gogetter %v\nstdout:\n%s\nstderr:\n%s", args, stdout, stderr)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(stdout), out), "decode output of %v:\n%s", args, stdout)
	}
}
