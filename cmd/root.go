package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lingodoc/lingodoc/pkg/log"
)

var version = "0.1.0"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "lingodoc",
	Short: "Asynchronous document translation pipeline",
	Long: `lingodoc parses uploaded documents into structural chunks, machine
translates them chunk by chunk with embedded images preserved as anchors,
and reassembles the result for human review and approval.

Use "lingodoc serve" to run the API server with the pipeline workers.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			log.Warn("Failed to load env file %s: %v", envFile, err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load before reading configuration")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
