package main

import (
	"github.com/spf13/cobra"

	"sfwriter/internal/config"
	"sfwriter/internal/writerrun"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var urlFlag string
	var tokenFlag string
	var logLevel string
	var logFormat string
	var development bool

	ctx := newCommandContext(&configFlag, &urlFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:   "sfwriter connection_address output_file n_frames rest_port user_id bsread_address",
		Short: "Detector stream writer",
		Long: "Receive detector frames from a stream and write them to a container file.\n\n" +
			"Arguments:\n" + config.UsageArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(6),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := config.ParseInvocation(args)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return writerrun.Run(cmd.Context(), cfg, inv, writerrun.Options{
				LogLevel:    logLevel,
				LogFormat:   logFormat,
				Development: development,
			})
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "Control plane URL of a running writer (default http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token for the control plane (default control.api_token)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "", "Log format override (console, json)")
	rootCmd.Flags().BoolVar(&development, "development", false, "Include source locations in log lines")

	for _, cmd := range newControlCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
