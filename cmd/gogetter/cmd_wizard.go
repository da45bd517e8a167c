package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gogetter/internal/goals"
	"gogetter/internal/wizard"
)

func wizardCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "wizard", Short: "Create a goal group step by step"}

	var goGetterID int64
	start := &cobra.Command{
		Use:   "start",
		Short: "Start a wizard for a go getter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				w, err := s.app.Wizards.Create(ctx, s.actor, goGetterID)
				if err != nil {
					return err
				}
				return printJSON(cmd, w)
			})
		},
	}
	start.Flags().Int64Var(&goGetterID, "gogetter", 0, "Go getter id")

	var title, description, startDate, endDate string
	scope := &cobra.Command{
		Use:   "scope <wizard-id>",
		Short: "Set the group title and window",
		Args:  cobra.ExactArgs(1),
		RunE: wizardStep(func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error) {
			start, err := goals.ParseDay(startDate)
			if err != nil {
				return nil, goals.Validationf("cli", "--start: %v", err)
			}
			end, err := goals.ParseDay(endDate)
			if err != nil {
				return nil, goals.Validationf("cli", "--end: %v", err)
			}
			return s.app.Wizards.SetScope(ctx, s.actor, id, wizard.Scope{
				Title: title, Description: description, Start: start, End: end,
			})
		}),
	}
	scope.Flags().StringVar(&title, "title", "", "Group title")
	scope.Flags().StringVar(&description, "description", "", "Group description")
	scope.Flags().StringVar(&startDate, "start", "", "First day, YYYY-MM-DD")
	scope.Flags().StringVar(&endDate, "end", "", "Day after the last day, YYYY-MM-DD")

	var targetSpecs []string
	targets := &cobra.Command{
		Use:   "targets <wizard-id>",
		Short: "Choose targets as id or id:priority",
		Args:  cobra.ExactArgs(1),
		RunE: wizardStep(func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error) {
			inputs, err := parseTargetInputs(targetSpecs)
			if err != nil {
				return nil, err
			}
			return s.app.Wizards.SetTargets(ctx, s.actor, id, inputs)
		}),
	}
	targets.Flags().StringSliceVar(&targetSpecs, "target", nil, "Target as <id>[:<priority>], repeatable")

	var constraintsJSON, constraintsFile string
	constraints := &cobra.Command{
		Use:   "constraints <wizard-id>",
		Short: "Set per-subcategory constraints and generate drafts",
		Args:  cobra.ExactArgs(1),
		RunE: wizardStep(func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error) {
			var m goals.ConstraintMap
			if err := readJSONInput(cmd, constraintsJSON, constraintsFile, &m); err != nil {
				return nil, err
			}
			return s.app.Wizards.SetConstraints(ctx, s.actor, id, m)
		}),
	}
	constraints.Flags().StringVar(&constraintsJSON, "json", "", `Constraints, e.g. {"7":{"daily_minutes":45,"preferred_days":[0,2,4]}}`)
	constraints.Flags().StringVar(&constraintsFile, "file", "", "Read constraints from a JSON file (- for stdin)")

	var patchJSON, patchFile string
	adjust := &cobra.Command{
		Use:   "adjust <wizard-id>",
		Short: "Patch targets or constraints and regenerate drafts",
		Args:  cobra.ExactArgs(1),
		RunE: wizardStep(func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error) {
			var patch wizard.Patch
			if err := readJSONInput(cmd, patchJSON, patchFile, &patch); err != nil {
				return nil, err
			}
			return s.app.Wizards.Adjust(ctx, s.actor, id, patch)
		}),
	}
	adjust.Flags().StringVar(&patchJSON, "json", "", "Patch with targets, remove_targets and constraints")
	adjust.Flags().StringVar(&patchFile, "file", "", "Read the patch from a JSON file (- for stdin)")

	feasibility := &cobra.Command{
		Use:   "feasibility <wizard-id>",
		Short: "Re-run or show the feasibility check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rerun, _ := cmd.Flags().GetBool("run")
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if rerun {
					if _, err := s.app.Wizards.RunFeasibility(ctx, s.actor, id); err != nil {
						return err
					}
				}
				res, err := s.app.Wizards.Feasibility(ctx, s.actor, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{
					"feasibility": res,
					"labels":      s.app.Records.RiskLabels(res),
				})
			})
		},
	}
	feasibility.Flags().Bool("run", false, "Re-evaluate against current state first")

	confirm := &cobra.Command{
		Use:   "confirm <wizard-id>",
		Short: "Create the goal group and activate its plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c, err := s.app.Wizards.Confirm(ctx, s.actor, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <wizard-id>",
		Short: "Cancel a wizard and discard its drafts",
		Args:  cobra.ExactArgs(1),
		RunE: wizardStep(func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error) {
			return s.app.Wizards.Cancel(ctx, s.actor, id)
		}),
	}

	status := &cobra.Command{
		Use:   "status <wizard-id>",
		Short: "Show a wizard",
		Args:  cobra.ExactArgs(1),
		RunE: wizardStep(func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error) {
			return s.app.Wizards.Status(ctx, s.actor, id)
		}),
	}

	cmd.AddCommand(start, scope, targets, constraints, adjust, feasibility, confirm, cancel, status)
	return cmd
}

// wizardStep adapts a wizard operation on the id in args[0].
func wizardStep(fn func(ctx context.Context, cmd *cobra.Command, s *session, id int64) (*goals.Wizard, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			w, err := fn(ctx, cmd, s, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, w)
		})
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, goals.Validationf("cli", "invalid id %q", s)
	}
	return id, nil
}

func parseTargetInputs(specs []string) ([]wizard.TargetInput, error) {
	out := make([]wizard.TargetInput, 0, len(specs))
	for _, spec := range specs {
		idStr, prioStr, hasPrio := strings.Cut(spec, ":")
		id, err := parseID(idStr)
		if err != nil {
			return nil, err
		}
		in := wizard.TargetInput{TargetID: id}
		if hasPrio {
			p, err := strconv.Atoi(prioStr)
			if err != nil {
				return nil, goals.Validationf("cli", "invalid priority in %q", spec)
			}
			in.Priority = p
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, goals.Validationf("cli", "at least one --target is required")
	}
	return out, nil
}
