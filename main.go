package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gluk-w/wellgate/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "wellgate",
	Short: "HTTP gateway to the WELL conferencing system over SSH",
	Long: `wellgate keeps one SSH login per caller and exposes command execution,
conference list management and reply posting as JSON endpoints.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config.Load()
		applyFlags(cmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServer(ctx)
	},
}

func init() {
	rootCmd.Flags().Bool("welltest", false, "Connect to the test host instead of the production host")
	rootCmd.Flags().String("addr", "", "Listen address (overrides WELLGATE_LISTEN_ADDR)")

	rootCmd.AddCommand(logsCmd, auditCmd)
}

// applyFlags lets explicit command-line flags override the environment.
func applyFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("welltest") {
		config.Cfg.WellTest, _ = cmd.Flags().GetBool("welltest")
	}
	if cmd.Flags().Changed("addr") {
		config.Cfg.ListenAddr, _ = cmd.Flags().GetString("addr")
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
