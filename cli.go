package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gluk-w/wellgate/internal/config"
	"github.com/gluk-w/wellgate/internal/database"
	"github.com/gluk-w/wellgate/internal/logging"
	"github.com/gluk-w/wellgate/internal/sshaudit"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print or clear the server log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Load()

		if truncate, _ := cmd.Flags().GetBool("clear"); truncate {
			if err := logging.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Log file cleared.")
			return nil
		}

		n, _ := cmd.Flags().GetInt("lines")
		tail, err := logging.ReadTail(n)
		if err != nil {
			return err
		}
		if tail != "" {
			fmt.Fprintln(cmd.OutOrStdout(), tail)
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the session audit log",
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Load()
		if err := database.Init(); err != nil {
			return fmt.Errorf("database init: %w", err)
		}
		defer database.Close()
		if database.DB == nil {
			return errors.New("audit log disabled: WELLGATE_DATABASE_PATH is empty")
		}

		auditor, err := sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
		if err != nil {
			return err
		}

		opts := sshaudit.QueryOptions{}
		opts.EventType, _ = cmd.Flags().GetString("event-type")
		opts.Username, _ = cmd.Flags().GetString("username")
		opts.Limit, _ = cmd.Flags().GetInt("limit")

		result, err := auditor.Query(opts)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range result.Entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 100, "Number of lines to print")
	logsCmd.Flags().Bool("clear", false, "Truncate the log file")

	auditCmd.Flags().String("event-type", "", "Only show this event type")
	auditCmd.Flags().String("username", "", "Only show this user")
	auditCmd.Flags().Int("limit", 50, "Maximum entries to print")
}
