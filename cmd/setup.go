package cmd

import (
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/sweepguard/sweepguard/internal/utils"
	"github.com/sweepguard/sweepguard/pkg/ai"
	"github.com/sweepguard/sweepguard/pkg/cost"
	"github.com/sweepguard/sweepguard/pkg/executor"
	"github.com/sweepguard/sweepguard/pkg/risk"
	"github.com/sweepguard/sweepguard/pkg/storage"
)

func openDB() (*storage.DB, error) {
	dbPath, _ := rootCmd.PersistentFlags().GetString("dbpath")
	if dbPath == "" {
		dbPath = "sweepguard.sqlite"
	}
	return storage.Open(dbPath)
}

// lockDB guards write commands against concurrent sweepguard processes.
// The caller must Unlock.
func lockDB() (*utils.DBLock, error) {
	dbPath, _ := rootCmd.PersistentFlags().GetString("dbpath")
	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	return lock, nil
}

func buildWhitelist() *risk.Whitelist {
	wl := risk.NewWhitelist()
	for _, p := range viper.GetStringSlice("whitelist") {
		wl.AddPrefix(p)
	}
	return wl
}

func buildCostController(db *storage.DB) *cost.Controller {
	cfg := cost.Config{
		Mode:             cost.Mode(viper.GetString("cost.mode")),
		MaxCallsPerScan:  viper.GetInt("cost.max-calls-per-scan"),
		MaxCostPerScan:   viper.GetFloat64("cost.max-cost-per-scan"),
		MaxCallsPerDay:   viper.GetInt("cost.max-calls-per-day"),
		MaxCostPerDay:    viper.GetFloat64("cost.max-cost-per-day"),
		MaxCallsPerMonth: viper.GetInt("cost.max-calls-per-month"),
		MaxCostPerMonth:  viper.GetFloat64("cost.max-cost-per-month"),
		AlertThreshold:   viper.GetFloat64("cost.alert-threshold"),
	}
	defaults := cost.DefaultConfig()
	cfg.InputCostPerMTok = defaults.InputCostPerMTok
	cfg.OutputCostPerMTok = defaults.OutputCostPerMTok
	return cost.New(cfg, db)
}

func buildClassifier(db *storage.DB, gate *cost.Controller) *risk.Classifier {
	cfg := risk.ClassifierConfig{
		Whitelist: buildWhitelist(),
		Rules:     risk.NewEngine(),
		Cache:     db,
		Gate:      gate,
	}

	if viper.GetBool("ai.enabled") {
		client, err := ai.NewClient(ai.Config{
			APIKey:     viper.GetString("ai.api-key"),
			Model:      viper.GetString("ai.model"),
			Endpoint:   viper.GetString("ai.endpoint"),
			MaxRetries: viper.GetInt("ai.max-retries"),
			RetryDelay: viper.GetDuration("ai.retry-delay"),
			Timeout:    viper.GetDuration("ai.timeout"),
		})
		if err != nil {
			utils.Log.Warnf("AI tier disabled: %v", err)
		} else {
			cfg.Client = client
		}
	}

	return risk.NewClassifier(cfg)
}

func recycleDir() (string, error) {
	dir := viper.GetString("recycle.dir")
	if dir != "" {
		return dir, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sweepguard", "recycle"), nil
}

func buildRecycleStore() (*executor.RecycleStore, error) {
	dir, err := recycleDir()
	if err != nil {
		return nil, err
	}
	return executor.NewRecycleStore(dir, viper.GetBool("recycle.compress"))
}
