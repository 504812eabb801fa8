package main

import (
	"fmt"
	"os"

	"esl-sync-service/internal/app"
	"esl-sync-service/pkg/config"

	"github.com/spf13/cobra"
)

const serviceName = "esl-sync"

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Keeps electronic shelf labels in step with store catalogs",
	Long: `esl-sync ingests catalog changes from connected point-of-sale and
e-commerce back-ends, fires scheduled price changes and pushes every
resulting product change to the ESL rendering service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newApp loads configuration and builds the application
func newApp() (*app.App, error) {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return app.New(cfg)
}

func init() {
	rootCmd.AddCommand(serveCmd, triggerCmd, refreshTokensCmd, reconcileCmd)
}
