package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"esl-sync-service/pkg/logger"

	"github.com/spf13/cobra"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <schedule-id>",
	Short: "Fire a price schedule's pending action now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("invalid schedule id %q", args[0])
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := logger.WithContext(cmd.Context(), logger.GetLogger())
		report, err := a.Scheduler.TriggerByID(ctx, uint(id))
		if err != nil {
			return fmt.Errorf("failed to trigger schedule %d: %w", id, err)
		}
		return printJSON(report)
	},
}

var refreshTokensCmd = &cobra.Command{
	Use:   "refresh-tokens",
	Short: "Refresh OAuth tokens that expire within the lead time",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Refresher.RefreshExpiring(logger.WithContext(cmd.Context(), logger.GetLogger()), time.Now())
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Poll every pollable catalog once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Reconciler.Reconcile(logger.WithContext(cmd.Context(), logger.GetLogger()))
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
