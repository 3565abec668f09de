package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/scopechat-server/internal/app"
	"github.com/vovakirdan/scopechat-server/internal/auth"
	"github.com/vovakirdan/scopechat-server/internal/config"
	applog "github.com/vovakirdan/scopechat-server/internal/log"
	transporthttp "github.com/vovakirdan/scopechat-server/internal/transport/http"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:           "scopechat-server",
		Short:         "Multi-channel chat relay with per-channel script scopes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := applog.New(overrides.LogLevel, overrides.LogFormat)
			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := applog.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			logger.Info().Str("addr", application.Addr().String()).Msg("starting scopechat server")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	flags := cmd.Flags()
	flags.StringVar(&overrides.Addr, "addr", "", "chat listen address (default :1357)")
	flags.StringVar(&overrides.AdminAddr, "admin-addr", "", "admin HTTP listen address; empty disables it")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&overrides.LogFormat, "log-format", "", "log format: console or json")
	flags.StringVar(&overrides.DatabasePath, "db", "", "sqlite path for channel persistence")

	cmd.AddCommand(newTokenCommand(&configPath))
	return cmd
}

// newTokenCommand mints a bearer token for the admin API from the configured secret.
func newTokenCommand(configPath *string) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an admin API token signed with admin_jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.Load(nil, *configPath)
			if err != nil {
				return err
			}
			jwtCfg := transporthttp.JWTConfig(&cfg)
			if jwtCfg == nil {
				return errors.New("admin_jwt_secret is not configured")
			}
			token, err := auth.GenerateToken(jwtCfg, operator)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "admin", "operator name embedded in the token")
	return cmd
}
