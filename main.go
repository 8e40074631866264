package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xiaoyuanzhu-com/opencode-bot/api"
	"github.com/xiaoyuanzhu-com/opencode-bot/config"
	"github.com/xiaoyuanzhu-com/opencode-bot/log"
	"github.com/xiaoyuanzhu-com/opencode-bot/server"
	"github.com/xiaoyuanzhu-com/opencode-bot/sessiondir"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opencode-bot",
		Short: "Chat bot frontend for a local opencode server",
		Long: `opencode-bot serves the recent-directory cache and project list for a
local opencode server.

Configuration comes from environment variables, optionally layered over a
YAML file named by OPENCODE_BOT_CONFIG.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProjectsCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newProjectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "Warm the directory cache and print recent projects as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(ctx context.Context, srv *server.Server) error {
				cache := srv.Cache()
				if err := cache.Warmup(ctx); err != nil {
					log.Warn().Err(err).Msg("sync failed, showing cached directories")
				}

				remote, err := srv.Client().ListProjects(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("failed to list opencode projects")
					remote = nil
				}
				return printJSON(cmd.OutOrStdout(), cache.MergeProjects(remote, cache.Projects()))
			})
		},
	}
}

func newSyncCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the directory cache with opencode and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(cmd.Context(), func(ctx context.Context, srv *server.Server) error {
				cache := srv.Cache()
				if err := cache.Sync(ctx, sessiondir.SyncOptions{Force: force}); err != nil {
					return err
				}
				if err := cache.Flush(ctx); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cache.Directories())
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Ignore the sync cooldown and report errors")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "opencode-bot", version)
			return err
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withServer builds the components without serving HTTP, runs fn, then
// flushes the cache and closes the database.
func withServer(ctx context.Context, fn func(context.Context, *server.Server) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(server.FromAppConfig(cfg))
	if err != nil {
		return err
	}

	runErr := fn(ctx, srv)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(server.FromAppConfig(cfg))
	if err != nil {
		return err
	}

	api.SetupRoutes(srv.Router(), api.NewHandlers(srv))

	errCh := make(chan error, 1)
	go func() {
		printNetworkAddresses(cfg.Port)
		errCh <- srv.Start()
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error().Err(serveErr).Msg("server error")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return serveErr
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
