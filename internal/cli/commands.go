package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"digestgenie/contracts/db"
	"digestgenie/internal/repository"
	pkgdb "digestgenie/pkg/db"
	"digestgenie/pkg/featureflag"
	"digestgenie/pkg/rbac"
	"digestgenie/pkg/util"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				if err := pkgdb.Migrate(ctx, s.pool); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newReprocessCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <rawEmailID>",
		Short: "Queue an unprocessed email for another pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				jobID, err := s.ops.Reprocess(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued job %s for email %s\n", jobID, args[0])
				return nil
			})
		},
	}
}

func newAddressCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "address <userID>",
		Short: "Assign a forwarding address to a user, keeping an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				addr, err := s.ops.AssignAddress(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), addr)
				return nil
			})
		},
	}
}

func newFlagsCmd(v *viper.Viper) *cobra.Command {
	flags := &cobra.Command{
		Use:   "flags",
		Short: "Inspect and change feature flags",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored feature flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				all, err := s.ops.ListFlags(ctx)
				if err != nil {
					return err
				}
				printFlags(cmd.OutOrStdout(), all)
				return nil
			})
		},
	}

	var (
		enabled     bool
		rollout     int
		targets     []string
		description string
	)
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a feature flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flag := &featureflag.Flag{
				Name:              args[0],
				Enabled:           enabled,
				RolloutPercentage: rollout,
				TargetUsers:       targets,
				Description:       description,
			}
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				if err := s.ops.SetFlag(ctx, flag); err != nil {
					return err
				}
				printFlags(cmd.OutOrStdout(), []*featureflag.Flag{flag})
				return nil
			})
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", true, "Turn the flag on or off")
	set.Flags().IntVar(&rollout, "rollout", 100, "Percentage of users that see the flag (0-100)")
	set.Flags().StringSliceVar(&targets, "targets", nil, "Restrict the flag to these user ids")
	set.Flags().StringVar(&description, "description", "", "Free-form description")

	flags.AddCommand(list, set)
	return flags
}

func printFlags(w io.Writer, flags []*featureflag.Flag) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tROLLOUT\tTARGETS")
	for _, f := range flags {
		fmt.Fprintf(tw, "%s\t%t\t%d%%\t%s\n", f.Name, f.Enabled, f.RolloutPercentage, strings.Join(f.TargetUsers, ","))
	}
	tw.Flush()
}

func newJobsCmd(v *viper.Viper) *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and retry processing jobs",
	}

	var (
		status string
		limit  uint64
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List processing jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				all, err := s.ops.ListJobs(ctx, repository.JobFilter{Status: db.JobStatus(status), Limit: limit})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tATTEMPTS\tSCHEDULED\tERROR")
				for _, j := range all {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
						j.ID, j.JobType, j.Status, j.Attempts, j.MaxAttempts,
						j.ScheduledAt.Format(time.RFC3339), deref(j.ErrorMessage))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "Filter by status (pending, processing, completed, failed)")
	list.Flags().Uint64Var(&limit, "limit", 50, "Maximum number of jobs")

	retry := &cobra.Command{
		Use:   "retry <jobID>",
		Short: "Give a failed job a fresh set of attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, v, false, func(ctx context.Context, s *session) error {
				if err := s.ops.RetryJob(ctx, args[0]); err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return fmt.Errorf("job %s does not exist or has not failed", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s is pending again\n", args[0])
				return nil
			})
		},
	}

	jobs.AddCommand(list, retry)
	return jobs
}

func newOutboxCmd(v *viper.Viper) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Republish outbox events",
	}

	replay := &cobra.Command{
		Use:   "replay <eventID>",
		Short: "Republish one outbox event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			return withSession(cmd, v, true, func(ctx context.Context, s *session) error {
				if err := s.ops.ReplayEvent(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "event %d replayed\n", id)
				return nil
			})
		},
	}

	var limit int
	replayFailed := &cobra.Command{
		Use:   "replay-failed",
		Short: "Republish events the dispatcher gave up on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, v, true, func(ctx context.Context, s *session) error {
				n, err := s.ops.ReplayFailed(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d events replayed\n", n)
				return nil
			})
		},
	}
	replayFailed.Flags().IntVar(&limit, "limit", 100, "Maximum number of events")

	outbox.AddCommand(replay, replayFailed)
	return outbox
}

func newTokenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(v)
			if err != nil {
				return err
			}
			role := v.GetString("token.role")
			if !rbac.IsValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			ttl := v.GetDuration("token.ttl")
			if ttl <= 0 {
				ttl = cfg.JWT.TTL
			}
			token, err := util.GenerateJWT(v.GetString("token.subject"), role, cfg.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "digestctl", "Operator name stored in the token")
	cmd.Flags().String("role", rbac.RoleViewer, "Role: viewer, operator or admin")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (defaults to jwt.ttl)")
	_ = v.BindPFlag("token.subject", cmd.Flags().Lookup("subject"))
	_ = v.BindPFlag("token.role", cmd.Flags().Lookup("role"))
	_ = v.BindPFlag("token.ttl", cmd.Flags().Lookup("ttl"))
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash to use as ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := util.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
