package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/plan"
	"github.com/sweepguard/sweepguard/pkg/risk"
)

// scanInputItem is the wire shape of one entry in the scan input file.
type scanInputItem struct {
	Path         string `json:"path"`
	Name         string `json:"name,omitempty"`
	SizeBytes    int64  `json:"size_bytes"`
	IsDir        bool   `json:"is_dir,omitempty"`
	LastAccessed string `json:"last_accessed,omitempty"`
}

// planCmd represents the plan command
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Classify scan results into a cleanup plan",
	Long: `Reads cleanup candidates from a JSON file (produced by an external
scanner), classifies every item through the whitelist, the rule engine
and the AI tier, and stores the resulting plan.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		name, _ := cmd.Flags().GetString("name")
		scanType, _ := cmd.Flags().GetString("scan-type")
		target, _ := cmd.Flags().GetString("target")

		raw, err := os.ReadFile(input)
		if err != nil {
			return fmt.Errorf("reading scan input: %w", err)
		}
		var inputItems []scanInputItem
		if err := json.Unmarshal(raw, &inputItems); err != nil {
			return fmt.Errorf("parsing scan input: %w", err)
		}

		items := make([]risk.ScanItem, 0, len(inputItems))
		for _, in := range inputItems {
			item := risk.ScanItem{
				Path:       in.Path,
				Name:       in.Name,
				SizeBytes:  in.SizeBytes,
				IsDir:      in.IsDir,
				ScanSource: scanType,
			}
			if in.LastAccessed != "" {
				if t, err := time.Parse(time.RFC3339, in.LastAccessed); err == nil {
					item.LastAccessed = t
				}
			}
			items = append(items, item)
		}

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

		controller := buildCostController(db)
		controller.ResetScanStats()
		classifier := buildClassifier(db, controller)

		builder := plan.NewBuilder(classifier, viper.GetInt("ai.concurrency"))

		if name == "" {
			name = fmt.Sprintf("%s scan %s", scanType, time.Now().Format("2006-01-02 15:04"))
		}

		utils.Log.Infof("classifying %d items", len(items))
		p := builder.Build(cmd.Context(), name, scanType, target, items, func(done, total int) {
			if done%100 == 0 || done == total {
				utils.Log.Debugf("classified %d/%d", done, total)
			}
		})

		sp, spItems := p.ToStorage()
		if err := db.SavePlan(context.Background(), sp, spItems); err != nil {
			return fmt.Errorf("saving plan: %w", err)
		}

		printPlanSummary(p)
		return nil
	},
}

func printPlanSummary(p *plan.Plan) {
	fmt.Printf("Plan %s (%s)\n\n", p.ID, p.Name)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "RISK\tITEMS\t")
	fmt.Fprintf(w, "safe\t%d\t\n", p.SafeCount)
	fmt.Fprintf(w, "suspicious\t%d\t\n", p.SuspiciousCount)
	fmt.Fprintf(w, "dangerous\t%d\t\n", p.DangerousCount)
	fmt.Fprintln(w, " \t \t")
	fmt.Fprintf(w, "TOTAL\t%d\t\n", len(p.Items))
	w.Flush()

	fmt.Printf("\nTotal size: %s\n", utils.FormatSize(p.TotalSize))
	fmt.Printf("Estimated reclaimable: %s\n", utils.FormatSize(p.EstimatedFreedSize))
	if p.UsedRulesOnly {
		fmt.Println("Classified by rules only (no AI calls).")
	} else {
		fmt.Printf("AI calls made: %d\n", p.AICallCount)
	}
	if p.Cancelled {
		fmt.Println("Note: classification was cancelled; unclassified items were marked suspicious.")
	}
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().StringP("input", "i", "", "JSON file with scan candidates (required)")
	planCmd.Flags().StringP("name", "n", "", "Plan name")
	planCmd.Flags().StringP("scan-type", "s", "custom", "Scan source: system, appdata or custom")
	planCmd.Flags().StringP("target", "t", "", "Scanned root path, for reporting")
	_ = planCmd.MarkFlagRequired("input")
}
