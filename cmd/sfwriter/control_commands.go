package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newControlCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStatusCommand(ctx),
		newStatsCommand(ctx),
		newStopCommand(ctx),
		newKillCommand(ctx),
		newParamsCommand(ctx),
		newSetCommand(ctx),
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the lifecycle of a running acquisition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			out := cmd.OutOrStdout()
			for _, line := range statusLines(status, shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Aliases: []string{"statistics"},
		Short:   "Show frame counters of a running acquisition",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := ctx.client().Statistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("statistics: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statisticsTable(stats))
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop receiving; buffered frames are still written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Stop(cmd.Context())
			if err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (state: %s)\n", resp.Message, resp.State)
			return nil
		},
	}
}

func newKillCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "kill",
		Short: "Abort the acquisition without writing format metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().Kill(cmd.Context())
			if err != nil {
				return fmt.Errorf("kill: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (state: %s)\n", resp.Message, resp.State)
			return nil
		},
	}
}

func newParamsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "List format parameters and which are still missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := ctx.client().Parameters(cmd.Context())
			if err != nil {
				return fmt.Errorf("parameters: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), parametersTable(params))
			return nil
		},
	}
}

func newSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set name=value...",
		Short: "Submit format parameters; values are converted to the declared types",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			params, err := ctx.client().SetParameters(cmd.Context(), values)
			if err != nil {
				return fmt.Errorf("set parameters: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stored %d parameter(s)\n", len(values))
			if len(params.Missing) > 0 {
				fmt.Fprintf(out, "Still missing: %s\n", strings.Join(params.Missing, ", "))
			} else {
				fmt.Fprintln(out, "All parameters set")
			}
			return nil
		},
	}
}

// parseAssignments turns name=value arguments into a request body. Values
// stay strings; the server converts them to each parameter's type.
func parseAssignments(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (want name=value)", arg)
		}
		if _, dup := values[name]; dup {
			return nil, fmt.Errorf("parameter %q given twice", name)
		}
		values[name] = value
	}
	return values, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
