package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pathway-backend/internal/services"
)

func engagementCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engagement [user-id] [step-id]",
		Short: "Show a learner's engagement on one step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			eng, err := e.tracker.GetStepEngagement(cmd.Context(), userID, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, eng)
			}
			fmt.Fprintf(out, "Step:        %s\n", eng.StepID)
			fmt.Fprintf(out, "Score:       %d\n", eng.EngagementScore)
			fmt.Fprintf(out, "Time spent:  %d min\n", eng.TimeSpent)
			fmt.Fprintf(out, "Resources:   %d\n", eng.ResourcesViewed)
			fmt.Fprintf(out, "Progress:    %d%%\n", eng.ProgressPercentage)
			fmt.Fprintf(out, "Completed:   %v (auto: %v)\n", eng.Completed, eng.AutoCompleted)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [user-id]",
		Short: "Show a learner's aggregate stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.tracker.GetLearningStats(cmd.Context(), userID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, stats)
			}
			fmt.Fprintln(out, "Learning Stats")
			fmt.Fprintln(out, strings.Repeat("=", 40))
			fmt.Fprintf(out, "  Time spent:       %d min\n", stats.TotalTimeSpent)
			fmt.Fprintf(out, "  Steps completed:  %d\n", stats.StepsCompleted)
			fmt.Fprintf(out, "  Resources viewed: %d\n", stats.ResourcesViewed)
			fmt.Fprintf(out, "  Submissions:      %d code, %d project\n", stats.TotalCodeSubmissions, stats.TotalProjectSubmissions)
			fmt.Fprintf(out, "  Streak:           %d (longest %d)\n", stats.CurrentStreak, stats.LongestStreak)
			fmt.Fprintf(out, "  Logins:           %d\n", stats.LoginCount)
			fmt.Fprintf(out, "  Avg engagement:   %.2f\n", stats.AverageEngagement)
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [user-id] [step-id]",
		Short: "Discard a learner's progress on one step (aggregate stats are kept)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := e.tracker.ResetStepProgress(cmd.Context(), userID, args[1])
			if err != nil {
				return err
			}
			if wantJSON(cmd) {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s for %s\n", res.StepID, userID)
			return nil
		},
	}
}

func activityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activity [user-id]",
		Short: "List a learner's recent activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.tracker.ListActivity(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if wantJSON(cmd) {
				return printJSON(out, entries)
			}
			for _, entry := range entries {
				fmt.Fprintf(out, "%s  %-18s %s\n", entry.Timestamp.Format("2006-01-02 15:04"), entry.Action, entry.StepID)
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", services.DefaultActivityLimit, "Maximum entries")

	return cmd
}
