package main

import (
	"context"

	"github.com/spf13/cobra"

	"gogetter/internal/goals"
	"gogetter/internal/groups"
	"gogetter/internal/guard"
)

type sweepResult struct {
	Wizards guard.ExpireResult    `json:"wizards"`
	Groups  groups.CompleteResult `json:"groups"`
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Cancel stale wizards and close ended groups (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if s.actor.Role != goals.RoleAdmin {
					return goals.Forbiddenf("cli.sweep", "%s may not run the sweep", s.actor)
				}
				expired, err := s.app.Wizards.Expire(ctx)
				if err != nil {
					return err
				}
				completed, err := s.app.Groups.Complete(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, sweepResult{Wizards: expired, Groups: completed})
			})
		},
	}
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "daemon", Short: "Run scheduled jobs"}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and job loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				d, err := s.app.Daemon()
				if err != nil {
					return err
				}
				return d.Run(ctx)
			})
		},
	}

	var limit int
	status := &cobra.Command{
		Use:   "status",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				jobs, err := s.app.Store.ListJobs(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, jobs)
			})
		},
	}
	status.Flags().IntVar(&limit, "limit", 20, "Number of jobs")

	cmd.AddCommand(run, status)
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Read the audit log"}

	var limit int
	var eventType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				events, err := s.app.Audit.Recent(ctx, limit, eventType)
				if err != nil {
					return err
				}
				return printJSON(cmd, events)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 50, "Number of events")
	tail.Flags().StringVar(&eventType, "type", "", "Only events of this type, e.g. wizard.confirmed")

	cmd.AddCommand(tail)
	return cmd
}
