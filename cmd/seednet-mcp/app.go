package main

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/seedclub/seednet-mcp/internal/apiclient"
	"github.com/seedclub/seednet-mcp/internal/auth"
	"github.com/seedclub/seednet-mcp/internal/config"
	"github.com/seedclub/seednet-mcp/internal/credentials"
	"github.com/seedclub/seednet-mcp/internal/logging"
	"github.com/seedclub/seednet-mcp/internal/state"
)

// cliStateTimeout keeps short commands from blocking on the state
// database while a server holds its lock.
const cliStateTimeout = 250 * time.Millisecond

// app is the wired set of components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *credentials.Store
	history  *state.State
	resolver *auth.Resolver
	client   *apiclient.Client
}

// newApp loads configuration and wires the components. The state
// database is best effort: without it there is no auth history.
func newApp(flags config.Flags, stateTimeout time.Duration, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  credentials.NewStore(cfg.ConfigDir),
	}

	history, err := state.LoadWithTimeout(filepath.Join(cfg.ConfigDir, state.FileName), stateTimeout)
	if err != nil {
		logger.Warn("auth history unavailable", slog.String("error", err.Error()))
	} else {
		a.history = history
	}

	rcfg := auth.ResolverConfig{
		Overrides:      cfg.Overrides(),
		EndpointBase:   cfg.EndpointBase(),
		StrictEndpoint: cfg.ExplicitEndpoint(),
		Store:          a.store,
		Opener:         newOpener(cfg.NoBrowser, stderr),
		Timeout:        cfg.AuthTimeout,
		Logger:         logger,
	}
	if a.history != nil {
		rcfg.Recorder = a.history
	}

	a.resolver = auth.NewResolver(rcfg)
	a.client = apiclient.NewClient(a.resolver,
		apiclient.WithHTTPClient(apiclient.NewHTTPClient(cfg.HTTPTimeout)),
		apiclient.WithUserAgent(apiclient.DefaultUserAgent+"/"+Version),
		apiclient.WithReauthWait(cfg.ReauthWait),
		apiclient.WithLogger(logger),
	)

	logger.Debug("configuration loaded",
		slog.String("api", cfg.EndpointBase()),
		slog.String("config_dir", cfg.ConfigDir),
		slog.Bool("no_browser", cfg.NoBrowser),
	)

	return a, nil
}

// Close cancels any pending sign-in and closes the state database.
func (a *app) Close() {
	a.resolver.Close()

	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("closing state db", slog.String("error", err.Error()))
		}
	}
}

// newOpener launches the browser unless disabled. Either way the URL is
// printed to stderr, which is never the MCP stream.
func newOpener(noBrowser bool, stderr io.Writer) auth.Opener {
	return auth.OpenerFunc(func(url string) error {
		fmt.Fprintf(stderr, "Sign in to Seed Network: %s\n", url)

		if noBrowser {
			return nil
		}

		return auth.BrowserOpener{}.Open(url)
	})
}
