package main

import (
	"context"

	"github.com/spf13/cobra"

	"gogetter/internal/app"
	"gogetter/internal/goals"
	"gogetter/internal/planner"
)

func groupCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "group", Short: "Inspect and change confirmed goal groups"}

	show := &cobra.Command{
		Use:   "show <group-id>",
		Short: "Show a group with its targets and plans",
		Args:  cobra.ExactArgs(1),
		RunE: groupAction(func(ctx context.Context, s *session, groupID int64) (any, error) {
			return s.app.Groups.Show(ctx, s.actor, groupID)
		}),
	}

	changes := &cobra.Command{
		Use:   "changes <group-id>",
		Short: "List a group's change log",
		Args:  cobra.ExactArgs(1),
		RunE: groupAction(func(ctx context.Context, s *session, groupID int64) (any, error) {
			return s.app.Groups.Changes(ctx, s.actor, groupID)
		}),
	}

	var addTargetID int64
	addTarget := &cobra.Command{
		Use:   "add-target <group-id>",
		Short: "Attach a target and re-plan the group",
		Args:  cobra.ExactArgs(1),
		RunE: groupAction(func(ctx context.Context, s *session, groupID int64) (any, error) {
			return s.app.Groups.AddTarget(ctx, s.actor, groupID, addTargetID)
		}),
	}
	addTarget.Flags().Int64Var(&addTargetID, "target", 0, "Target id")

	var removeTargetID int64
	removeTarget := &cobra.Command{
		Use:   "remove-target <group-id>",
		Short: "Cancel a member target and re-plan the rest",
		Args:  cobra.ExactArgs(1),
		RunE: groupAction(func(ctx context.Context, s *session, groupID int64) (any, error) {
			return s.app.Groups.RemoveTarget(ctx, s.actor, groupID, removeTargetID)
		}),
	}
	removeTarget.Flags().Int64Var(&removeTargetID, "target", 0, "Target id")

	var reason string
	replan := &cobra.Command{
		Use:   "replan <group-id>",
		Short: "Request a re-plan of every member from the next week on",
		Args:  cobra.ExactArgs(1),
		RunE: groupAction(func(ctx context.Context, s *session, groupID int64) (any, error) {
			return s.app.Groups.RequestReplan(ctx, s.actor, groupID, reason)
		}),
	}
	replan.Flags().StringVar(&reason, "reason", "", "Why the plans need to change")

	var cancelReason string
	cancel := &cobra.Command{
		Use:   "cancel <group-id>",
		Short: "Cancel a group and retire its plans from the next week on",
		Args:  cobra.ExactArgs(1),
		RunE: groupAction(func(ctx context.Context, s *session, groupID int64) (any, error) {
			return s.app.Groups.Cancel(ctx, s.actor, groupID, cancelReason)
		}),
	}
	cancel.Flags().StringVar(&cancelReason, "reason", "", "Why the group is being cancelled")

	cmd.AddCommand(show, changes, addTarget, removeTarget, replan, cancel)
	return cmd
}

func groupAction(fn func(ctx context.Context, s *session, groupID int64) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *session) error {
			out, err := fn(ctx, s, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		})
	}
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Inspect plans and record progress"}

	var out string
	show := &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan with milestones and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				p, err := s.app.Records.ShowPlan(ctx, s.actor, id)
				if err != nil {
					return err
				}
				if out != "" {
					path, err := s.app.Workspace.ResolvePath(out)
					if err != nil {
						return err
					}
					if err := planner.WritePlan(path, p); err != nil {
						return err
					}
				}
				return printJSON(cmd, p)
			})
		},
	}
	show.Flags().StringVar(&out, "out", "", "Also write the plan JSON to this path")

	var against int64
	var exported string
	diff := &cobra.Command{
		Use:   "diff <plan-id>",
		Short: "Diff a plan against the version it replaced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if exported != "" {
					return diffExported(ctx, cmd, s, id, exported)
				}
				d, err := s.app.Records.DiffPlan(ctx, s.actor, id, against)
				if err != nil {
					return err
				}
				return printJSON(cmd, d)
			})
		},
	}
	diff.Flags().Int64Var(&against, "against", 0, "Compare with this plan id instead")
	diff.Flags().StringVar(&exported, "file", "", "Compare with a plan exported by plan show --out")

	var note string
	checkIn := &cobra.Command{
		Use:   "checkin <task-id>",
		Short: "Record progress on an active task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				c, err := s.app.Records.CheckIn(ctx, s.actor, id, note)
				if err != nil {
					return err
				}
				return printJSON(cmd, c)
			})
		},
	}
	checkIn.Flags().StringVar(&note, "note", "", "Optional note")

	progress := &cobra.Command{
		Use:   "progress <plan-id>",
		Short: "Score check-ins against a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				p, err := s.app.Records.Progress(ctx, s.actor, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}

	cmd.AddCommand(show, diff, checkIn, progress)
	return cmd
}

func diffExported(ctx context.Context, cmd *cobra.Command, s *session, planID int64, file string) error {
	path, err := s.app.Workspace.ResolvePath(file)
	if err != nil {
		return err
	}
	old, err := planner.LoadPlan(path)
	if err != nil {
		return goals.Validationf("plan.diff", "%v", err)
	}
	current, err := s.app.Records.ShowPlan(ctx, s.actor, planID)
	if err != nil {
		return err
	}
	d, err := planner.DiffPlans(old, current)
	if err != nil {
		return err
	}
	return printJSON(cmd, app.PlanDiff{FromID: old.ID, ToID: current.ID, Diff: d})
}
