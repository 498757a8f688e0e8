package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seedclub/seednet-mcp/internal/config"
	"github.com/seedclub/seednet-mcp/internal/mcpserver"
	"github.com/seedclub/seednet-mcp/internal/server"
	"github.com/seedclub/seednet-mcp/internal/state"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 10 * time.Second

func newServeCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server (stdio, or HTTP when MCP_LISTEN_ADDR is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, *flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags config.Flags) error {
	a, err := newApp(flags, state.DefaultOpenTimeout, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "seed-network", Version: Version},
		nil,
	)
	deps := &mcpserver.Deps{
		Client:   a.client,
		Resolver: a.resolver,
		Logger:   a.logger,
	}
	if a.history != nil {
		deps.History = a.history
	}
	mcpserver.RegisterTools(mcpServer, deps)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// Picks up logins and logouts done by other processes.
		err := a.store.Watch(gctx, a.resolver.Forget)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("credential watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()

		if a.cfg.MCPListenAddr == "" {
			return runStdio(gctx, a, mcpServer)
		}
		return runHTTP(gctx, a, mcpServer)
	})

	return g.Wait()
}

func runStdio(ctx context.Context, a *app, mcpServer *mcp.Server) error {
	a.logger.Info("starting MCP server on stdio",
		slog.String("api", a.cfg.EndpointBase()),
		slog.String("version", Version),
	)

	err := mcpServer.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}

	a.logger.Info("MCP server stopped")

	return nil
}

func runHTTP(ctx context.Context, a *app, mcpServer *mcp.Server) error {
	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	mux := server.NewMux(server.MuxConfig{
		MCPHandler: mcpHandler,
		Logger:     a.logger,
		HTTPToken:  a.cfg.MCPHTTPToken,
		Status:     a.resolver.Status,
	})
	srv := server.NewServer(a.cfg.MCPListenAddr, mux)

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("http shutdown", slog.String("error", err.Error()))
		}
	}()

	a.logger.Info("starting MCP server on HTTP",
		slog.String("listen", a.cfg.MCPListenAddr),
		slog.String("api", a.cfg.EndpointBase()),
		slog.Bool("auth", a.cfg.MCPHTTPToken != ""),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
