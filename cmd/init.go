package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamusis/cbdistill/internal/config"
)

// defaultDotEnv is written next to the config on first init.
const defaultDotEnv = `# Devices used for training and codebook extraction.
# One worker is started per comma-separated id.
# CUDA_VISIBLE_DEVICES=0,1,2,3
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default cbdistill.yaml",
	Long: `Write the default run configuration to the file named by --config and a
commented .env template next to it.

Existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	printSection("cbdistill init")

	if _, err := os.Stat(configPath); err == nil {
		printSkip("", fmt.Sprintf("Config already exists: %s", configPath))
	} else if os.IsNotExist(err) {
		if err := config.Save(configPath, config.Default()); err != nil {
			return err
		}
		printOK("", fmt.Sprintf("Config written: %s", configPath))
	} else {
		return fmt.Errorf("cannot stat %s: %w", configPath, err)
	}

	if _, err := os.Stat(envFile); err == nil {
		printSkip("", fmt.Sprintf("Env file already exists: %s", envFile))
	} else if os.IsNotExist(err) {
		if err := os.WriteFile(envFile, []byte(defaultDotEnv), 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", envFile, err)
		}
		printOK("", fmt.Sprintf("Env file written: %s", envFile))
	} else {
		return fmt.Errorf("cannot stat %s: %w", envFile, err)
	}

	fmt.Println()
	printInfo("", "Next: run 'cbdistill doctor', then 'cbdistill run'.")
	return nil
}
