package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sweepguard/sweepguard/pkg/executor"
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore cleaned items from their backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, _ := cmd.Flags().GetString("record")
		planID, _ := cmd.Flags().GetString("plan")
		purgeExpired, _ := cmd.Flags().GetBool("purge-expired")

		if recordID == "" && planID == "" && !purgeExpired {
			return errors.New("one of --record, --plan or --purge-expired is required")
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

		recycle, err := buildRecycleStore()
		if err != nil {
			return err
		}
		restorer := executor.NewRestorer(db, recycle)
		ctx := context.Background()

		switch {
		case recordID != "":
			if err := restorer.Restore(ctx, recordID); err != nil {
				return err
			}
			fmt.Println("Restored.")

		case planID != "":
			restored, errs := restorer.RestorePlan(ctx, planID)
			fmt.Printf("Restored %d items.\n", restored)
			for _, e := range errs {
				fmt.Printf("  failed: %v\n", e)
			}

		case purgeExpired:
			retention := time.Duration(viper.GetInt("recycle.retention-days")) * 24 * time.Hour
			purged, err := restorer.PurgeExpired(ctx, retention)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d expired backups.\n", purged)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().String("record", "", "Recovery record ID to restore")
	restoreCmd.Flags().String("plan", "", "Restore every unrestored record of this plan")
	restoreCmd.Flags().Bool("purge-expired", false, "Delete backups past the retention window")
}
