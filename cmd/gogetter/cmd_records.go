package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gogetter/internal/app"
	"gogetter/internal/config"
	"gogetter/internal/guard"
	"gogetter/internal/taxonomy"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspacePath == "" {
				return fmt.Errorf("--workspace is required")
			}
			ws, err := config.Init(workspacePath)
			if err != nil {
				return err
			}
			policy, err := yaml.Marshal(guard.DefaultPolicy())
			if err != nil {
				return fmt.Errorf("marshal permissions: %w", err)
			}
			if err := writeFileIfMissing(ws.ConfigPath, config.Template); err != nil {
				return err
			}
			if err := writeFileIfMissing(ws.PermissionsPath, string(policy)); err != nil {
				return err
			}
			if _, err := os.Stat(ws.TaxonomyPath); os.IsNotExist(err) {
				if err := taxonomy.Write(ws.TaxonomyPath, taxonomy.Default()); err != nil {
					return err
				}
			}
			// Opening once creates the schema.
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return printJSON(cmd, map[string]any{
					"workspace": ws.Root,
					"database":  s.app.Config.Database,
					"audit_db":  s.app.Config.AuditDB,
				})
			})
		},
	}
}

func writeFileIfMissing(path string, contents string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(contents), 0o644)
}

func bestPalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bestpal", Short: "Manage best pals"}
	var name string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a best pal (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				bp, err := s.app.Records.AddBestPal(ctx, s.actor, name)
				if err != nil {
					return err
				}
				return printJSON(cmd, bp)
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name")
	cmd.AddCommand(add)
	return cmd
}

func goGetterCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "gogetter", Short: "Manage go getters"}

	var in app.NewGoGetter
	var bestPalID int64
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a go getter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bestPalID > 0 {
				in.BestPalID = &bestPalID
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				gg, err := s.app.Records.AddGoGetter(ctx, s.actor, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, gg)
			})
		},
	}
	add.Flags().StringVar(&in.Name, "name", "", "Display name")
	add.Flags().StringVar(&in.Grade, "grade", "", "School grade")
	add.Flags().Int64Var(&bestPalID, "best-pal", 0, "Owning best pal id (admin only)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List go getters visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				ggs, err := s.app.Records.ListGoGetters(ctx, s.actor)
				if err != nil {
					return err
				}
				return printJSON(cmd, ggs)
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func targetCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "target", Short: "Manage targets"}

	var in app.NewTarget
	add := &cobra.Command{
		Use:   "add",
		Short: "Create an active target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				t, err := s.app.Records.AddTarget(ctx, s.actor, in)
				if err != nil {
					return err
				}
				return printJSON(cmd, t)
			})
		},
	}
	add.Flags().Int64Var(&in.GoGetterID, "gogetter", 0, "Go getter id")
	add.Flags().Int64Var(&in.SubcategoryID, "subcategory", 0, "Subcategory id from taxonomy.yml")
	add.Flags().StringVar(&in.Title, "title", "", "Target title")
	add.Flags().StringVar(&in.Subject, "subject", "", "Subject")
	add.Flags().StringVar(&in.Description, "description", "", "Description")
	add.Flags().IntVar(&in.Priority, "priority", 0, "Priority 1-5 (default 3)")

	var goGetterID int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List a go getter's targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				targets, err := s.app.Records.ListTargets(ctx, s.actor, goGetterID)
				if err != nil {
					return err
				}
				return printJSON(cmd, targets)
			})
		},
	}
	list.Flags().Int64Var(&goGetterID, "gogetter", 0, "Go getter id")

	cmd.AddCommand(add, list)
	return cmd
}
