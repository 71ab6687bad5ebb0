package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sweepguard/sweepguard/internal/utils"
)

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints AI spending counters and stored plans.",
	Long:  "Prints AI spending counters and stored plans.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		snapshot := buildCostController(db).UsageReport()

		fmt.Printf("Cost mode: %s", snapshot.Mode)
		if snapshot.Degraded {
			fmt.Print(" (degraded to rules-only)")
		}
		fmt.Printf("\nAlert level: %s\n\n", snapshot.Alert)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "WINDOW\tCALLS\tCOST\t")
		fmt.Fprintf(w, "day\t%d\t$%.4f\t\n", snapshot.DayCalls, snapshot.DayCost)
		fmt.Fprintf(w, "month\t%d\t$%.4f\t\n", snapshot.MonthCalls, snapshot.MonthCost)
		w.Flush()

		plans, err := db.ListPlans(context.Background())
		if err != nil {
			return err
		}
		if len(plans) == 0 {
			fmt.Println("\nNo plans stored.")
			return nil
		}

		fmt.Println()
		pw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(pw, "PLAN\tSTATUS\tITEMS\tSAFE\tSUSPICIOUS\tDANGEROUS\tRECLAIMABLE\t")
		for _, p := range plans {
			fmt.Fprintf(pw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t\n",
				p.ID, p.Status, p.TotalItems, p.SafeItems, p.SuspiciousItems, p.DangerousItems,
				utils.FormatSize(p.EstimatedFreedSize))
		}
		pw.Flush()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
