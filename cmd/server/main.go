package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ComUnity/access-gate/internal/config"
	"github.com/ComUnity/access-gate/internal/server"
	"github.com/ComUnity/access-gate/internal/util/logger"
)

const defaultConfigPath = "config/gate.yaml"

type rootOptions struct {
	ConfigPath string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gate",
		Short:         "Lead-capture access gate",
		Long:          "Serves gated content behind a contact form and records the leads it captures.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCheckConfigCommand(opts))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), server.Version)
		},
	})
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gate HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger.InitLogger(&logger.Config{
				Level:    cfg.Logger.Level,
				Encoding: cfg.Logger.Encoding,
				Output:   cfg.Logger.Output,
			})
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			return srv.Run(ctx)
		},
	}
}

func newCheckConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the config, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: env=%s port=%d flag_store=%s routes=%d remote_leads=%t\n",
				cfg.App.Env, cfg.App.Port, cfg.Gate.FlagStore, len(cfg.Routes), cfg.RemoteLeadsEnabled())
			for _, rt := range cfg.Routes {
				target := rt.ContentDir
				if rt.Upstream != "" {
					target = rt.Upstream
				}
				fmt.Fprintf(out, "  %s -> %s (%s)\n", rt.Path, rt.Context, target)
			}
			return nil
		},
	}
}
