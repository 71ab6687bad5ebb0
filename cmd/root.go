package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sweepguard/sweepguard/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `											 _
 _____ _ _ _ ___ ___ ___ ___ _ _ ___ ___ _| |
|_ -| | | | -_| -_| . | . | | | .'|  _| . |
|___|_____|___|___|  _|_  |___|__,|_| |___|
				  |_| |___|
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sweepguard",
	Short: "Risk-aware disk cleanup with reversible deletes.",
	Long: LOGO + `sweepguard classifies cleanup candidates through a whitelist, a rule
engine and an optional AI tier, then removes them with backups so every
delete can be undone.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sweepguard.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("dbpath", "", "sweepguard.sqlite", "Path to SQLite DB file")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".sweepguard")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.sweepguard.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default values for all keys
	viper.SetDefault("ai.enabled", false)
	viper.SetDefault("ai.endpoint", "")
	viper.SetDefault("ai.api-key", "")
	viper.SetDefault("ai.model", "")
	viper.SetDefault("ai.max-retries", 3)
	viper.SetDefault("ai.retry-delay", "20s")
	viper.SetDefault("ai.timeout", "30s")
	viper.SetDefault("ai.concurrency", 8)
	viper.SetDefault("cost.mode", "budget")
	viper.SetDefault("cost.max-calls-per-scan", 100)
	viper.SetDefault("cost.max-cost-per-scan", 2.0)
	viper.SetDefault("cost.max-calls-per-day", 1000)
	viper.SetDefault("cost.max-cost-per-day", 10.0)
	viper.SetDefault("cost.max-calls-per-month", 10000)
	viper.SetDefault("cost.max-cost-per-month", 50.0)
	viper.SetDefault("cost.alert-threshold", 0.8)
	viper.SetDefault("recycle.mode", "managed")
	viper.SetDefault("recycle.dir", "")
	viper.SetDefault("recycle.compress", false)
	viper.SetDefault("recycle.retention-days", 30)
	viper.SetDefault("whitelist", []string{})

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}
