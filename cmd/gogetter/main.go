package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gogetter/internal/app"
	"gogetter/internal/config"
	"gogetter/internal/goals"
)

const appName = "gogetter"

// Exit codes by error kind.
const (
	exitOK         = 0
	exitError      = 1
	exitValidation = 2
	exitNotFound   = 3
	exitConflict   = 4
	exitForbidden  = 5
	exitUpstream   = 6
)

var (
	workspacePath string
	actorFlag     string

	rootCmd = &cobra.Command{
		Use:           appName,
		Short:         "Goal planning orchestration for go getters and their best pals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&workspacePath, "workspace", os.Getenv("GOGETTER_WORKSPACE"), "Path to workspace root")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "as", envOr("GOGETTER_ACTOR", "admin"), "Actor: admin, best_pal:<id> or go_getter:<id>")

	rootCmd.AddCommand(
		initCmd(),
		goGetterCmd(),
		bestPalCmd(),
		targetCmd(),
		wizardCmd(),
		groupCmd(),
		planCmd(),
		sweepCmd(),
		daemonCmd(),
		auditCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// session is the per-command state: the wired app and the resolved actor.
type session struct {
	app   *app.App
	actor goals.Actor
}

// withSession opens the workspace, runs fn and closes the store.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	if strings.TrimSpace(workspacePath) == "" {
		return fmt.Errorf("--workspace is required")
	}
	actor, err := goals.ParseActor(actorFlag)
	if err != nil {
		return goals.Validationf("cli", "--as: %v", err)
	}
	ws, err := config.Resolve(workspacePath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	a, err := app.Open(ws, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), &session{app: a, actor: actor})
}

// printJSON writes v as indented JSON to the command's stdout.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// readJSONInput decodes inline JSON or the contents of a file ("-" reads
// stdin) into v. Exactly one source must be given.
func readJSONInput(cmd *cobra.Command, inline, path string, v any) error {
	var data []byte
	switch {
	case inline != "" && path != "":
		return goals.Validationf("cli", "use either --json or --file, not both")
	case inline != "":
		data = []byte(inline)
	case path == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		data = b
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		data = b
	default:
		return goals.Validationf("cli", "one of --json or --file is required")
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return goals.Validationf("cli", "decode input: %v", err)
	}
	return nil
}

func reportError(w io.Writer, err error) int {
	kind := goals.KindOf(err)
	out := map[string]any{"error": map[string]any{
		"kind":    string(kind),
		"message": err.Error(),
	}}
	data, merr := json.MarshalIndent(out, "", "  ")
	if merr != nil {
		fmt.Fprintln(w, err)
	} else {
		fmt.Fprintln(w, string(data))
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, goals.ErrValidation):
		return exitValidation
	case errors.Is(err, goals.ErrNotFound):
		return exitNotFound
	case errors.Is(err, goals.ErrConflict):
		return exitConflict
	case errors.Is(err, goals.ErrForbidden):
		return exitForbidden
	case errors.Is(err, goals.ErrUpstream):
		return exitUpstream
	default:
		return exitError
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
