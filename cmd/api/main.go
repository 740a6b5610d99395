package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"reflex-royale-server/internal/server"
)

func newCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("REFLEX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var verbose bool

	cmd := &cobra.Command{
		Use:           "reflex-royale-server",
		Short:         "Real-time coordinator for reflex and territory-conquest party games.",
		Args:          cobra.ExactArgs(0),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			cfg := server.Config{
				Port:         v.GetInt("port"),
				HostPassword: v.GetString("host-password"),
				DatabaseURL:  v.GetString("database-url"),
				PublicURL:    strings.TrimSuffix(v.GetString("public-url"), "/"),
			}
			if cfg.Port < 1 || cfg.Port > 65535 {
				return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", cfg.Port)
			}
			return run(cmd.Context(), cfg, v.GetBool("verbose"))
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.Int("port", 3000, "port to listen on")
	fs.String("host-password", "", "shared secret gating the host UI (empty rejects all hosts)")
	fs.String("database-url", "", "postgres URL for the result sink (empty disables persistence)")
	fs.String("public-url", "http://localhost:3000", "base URL encoded into join QR codes")
	fs.BoolVar(&verbose, "verbose", false, "enable debug logging")

	return cmd
}

func run(ctx context.Context, cfg server.Config, verbose bool) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(ctx, cfg, logger)
	defer srv.Shutdown()

	httpServer := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server forced to shut down: %w", err)
	}
	logger.Info().Msg("graceful shutdown complete")
	return nil
}

func main() {
	cobra.CheckErr(newCmd().ExecuteContext(context.Background()))
}
