package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/config"
	"github.com/kamusis/cbdistill/internal/logger"
)

var (
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "cbdistill",
	Short:        "cbdistill — codebook-index distillation pipeline for pruned transducers",
	SilenceUsage: true, // don't print usage on operational errors
	Long: `cbdistill drives the HuBERT codebook-index distillation recipe:
fetch the teacher model, verify it, obtain codebook indexes (download or
compute), train the student and evaluate it.

Run it from the recipe root (the directory holding data/ and
pruned_transducer_stateless6/).`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return config.ApplyDotEnv(envFile)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultConfigFile, "path to the YAML run configuration")
	pf.StringVar(&envFile, "env-file", config.DefaultDotEnvFile, "dotenv file loaded before running (existing variables win)")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")
}

// Execute is called by main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the structured logger from the persistent flags.
func newLogger() (*logger.Logger, error) {
	return logger.New(logger.Options{Level: logLevel, Format: logFormat, Out: os.Stderr})
}

// loadConfig reads the config file named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w\nRun 'cbdistill init' to write a default one.", err)
	}
	return cfg, nil
}
