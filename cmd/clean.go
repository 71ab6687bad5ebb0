package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/executor"
	"github.com/sweepguard/sweepguard/pkg/risk"
	"github.com/sweepguard/sweepguard/pkg/storage"
)

// cleanCmd represents the clean command
var cleanCmd = &cobra.Command{
	Use:   "clean <plan-id>",
	Short: "Execute a stored cleanup plan",
	Long: `Removes the safe items of a plan (and, with --include-suspicious, the
suspicious ones) after backing each item up, so every delete can be
undone with the restore command.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		planID := args[0]
		includeSuspicious, _ := cmd.Flags().GetBool("include-suspicious")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		lock, err := lockDB()
		if err != nil {
			return err
		}
		defer lock.Unlock()

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		p, err := db.GetPlan(ctx, planID)
		if err != nil {
			return fmt.Errorf("plan not found: %s", planID)
		}
		items, err := db.GetPlanItems(ctx, planID)
		if err != nil {
			return err
		}

		var selected []storage.Item
		for _, it := range items {
			if it.Status != storage.ItemStatusPending {
				continue
			}
			switch it.RiskLevel {
			case string(risk.LevelSafe):
				selected = append(selected, it)
			case string(risk.LevelSuspicious):
				if includeSuspicious {
					selected = append(selected, it)
				}
			}
		}
		if len(selected) == 0 {
			fmt.Println("Nothing to clean.")
			return nil
		}

		if dryRun {
			fmt.Printf("Would clean %d items from plan %s:\n", len(selected), p.ID)
			for _, it := range selected {
				fmt.Printf("  [%s] %s (%s)\n", it.RiskLevel, it.Path, utils.FormatSize(it.SizeBytes))
			}
			return nil
		}

		recycle, err := buildRecycleStore()
		if err != nil {
			return err
		}
		trash, err := executor.NewTrash("")
		if err != nil {
			return err
		}

		exe := executor.New(executor.Config{}, buildWhitelist(), recycle, trash, db)

		if err := db.UpdatePlanStatus(ctx, planID, storage.PlanStatusExecuting); err != nil {
			utils.Log.Warnf("updating plan status failed: %v", err)
		}

		res := exe.Execute(cmd.Context(), planID, selected, func(done, total int) {
			utils.Log.Debugf("cleaned %d/%d", done, total)
		})

		if res.Status == executor.StatusCompleted || res.Status == executor.StatusPartialSuccess {
			if err := db.UpdatePlanStatus(ctx, planID, storage.PlanStatusDone); err != nil {
				utils.Log.Warnf("updating plan status failed: %v", err)
			}
		}

		printExecutionResult(res)
		return saveExecutionResult(ctx, db, res)
	},
}

// saveExecutionResult persists the run. A lost execution record breaks
// auditability, so failures here fail the command even though the
// cleanup itself already happened.
func saveExecutionResult(ctx context.Context, db *storage.DB, res *executor.Result) error {
	exec, failures := res.ToStorage()
	if err := db.SaveExecution(ctx, exec, failures); err != nil {
		return fmt.Errorf("saving execution record: %w", err)
	}
	return nil
}

func printExecutionResult(res *executor.Result) {
	fmt.Printf("Execution %s: %s\n\n", res.ExecutionID, res.Status)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "OUTCOME\tITEMS\t")
	fmt.Fprintf(w, "succeeded\t%d\t\n", res.SuccessItems)
	fmt.Fprintf(w, "failed\t%d\t\n", res.FailedItems)
	fmt.Fprintf(w, "skipped\t%d\t\n", res.SkippedItems)
	fmt.Fprintln(w, " \t \t")
	fmt.Fprintf(w, "TOTAL\t%d\t\n", res.TotalItems)
	w.Flush()

	fmt.Printf("\nFreed: %s\n", utils.FormatSize(res.FreedSize))
	if res.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", res.ErrorMessage)
	}
	for _, f := range res.Failures {
		fmt.Printf("  %s: %s (%s, suggested: %s)\n", f.Path, f.Message, f.ErrorType, f.SuggestedAction)
	}
}

func init() {
	rootCmd.AddCommand(cleanCmd)
	cleanCmd.Flags().Bool("include-suspicious", false, "Also clean items classified as suspicious")
	cleanCmd.Flags().Bool("dry-run", false, "List what would be cleaned without touching anything")
}
