package config

import (
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/seedclub/seednet-mcp/internal/auth"
	"github.com/seedclub/seednet-mcp/internal/credentials"
)

// DefaultAPIBase is the Seed Network origin used when none is configured.
const DefaultAPIBase = "https://beta.seedclub.com"

// Config holds all environment-based configuration for seednet-mcp.
type Config struct {
	// Token short-circuits the browser flow and the stored credential.
	Token string `env:"SEED_NETWORK_TOKEN"`

	// APIBase overrides the remote origin. Empty means DefaultAPIBase.
	APIBase string `env:"SEED_NETWORK_API"`

	// ConfigDir holds the credential file and the state database.
	// Defaults to ~/.config/seed-network.
	ConfigDir string `env:"SEED_NETWORK_CONFIG_DIR"`

	// AuthTimeout is how long a browser sign-in link stays valid.
	AuthTimeout time.Duration `env:"SEED_NETWORK_AUTH_TIMEOUT" envDefault:"5m"`

	// NoBrowser only prints the sign-in URL instead of opening it.
	NoBrowser bool `env:"SEED_NETWORK_NO_BROWSER" envDefault:"false"`

	// HTTPTimeout bounds a single API request.
	HTTPTimeout time.Duration `env:"SEED_NETWORK_HTTP_TIMEOUT" envDefault:"30s"`

	// ReauthWait is how long a tool call that hit a 401 waits for the
	// new sign-in before returning the URL. Zero returns it at once.
	ReauthWait time.Duration `env:"SEED_NETWORK_REAUTH_WAIT" envDefault:"0s"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	// MCP transport. Empty listen address means stdio.
	MCPListenAddr string `env:"MCP_LISTEN_ADDR"`
	MCPHTTPToken  string `env:"MCP_HTTP_TOKEN"`

	// Set from command-line flags, which take precedence over env.
	flagToken string
	flagAPI   string
}

// Flags are the command-line overrides.
type Flags struct {
	Token string
	API   string
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the API token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars,
// then applies flags.
func Load(flags Flags) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.flagToken = strings.TrimSpace(flags.Token)
	cfg.flagAPI = strings.TrimSpace(flags.API)

	if cfg.ConfigDir == "" {
		dir, err := credentials.DefaultDir()
		if err != nil {
			return nil, err
		}

		cfg.ConfigDir = dir
	}

	absDir, err := filepath.Abs(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir to absolute path: %w", err)
	}

	cfg.ConfigDir = absDir

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for name, raw := range map[string]string{"--api": c.flagAPI, "SEED_NETWORK_API": c.APIBase} {
		if raw == "" {
			continue
		}

		if err := validateBase(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.AuthTimeout <= 0 {
		return fmt.Errorf("SEED_NETWORK_AUTH_TIMEOUT must be positive")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("SEED_NETWORK_HTTP_TIMEOUT must be positive")
	}

	if c.ReauthWait < 0 {
		return fmt.Errorf("SEED_NETWORK_REAUTH_WAIT must not be negative")
	}

	if c.MCPListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.MCPListenAddr); err != nil {
			return fmt.Errorf("MCP_LISTEN_ADDR: %w", err)
		}

		if c.MCPHTTPToken == "" && !isLoopbackAddr(c.MCPListenAddr) {
			return fmt.Errorf("MCP_HTTP_TOKEN is required when MCP_LISTEN_ADDR is not a loopback address")
		}
	}

	return nil
}

func validateBase(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}

	return nil
}

// isLoopbackAddr reports whether a listen address only accepts local
// connections. An empty host listens on every interface.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}

	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// EndpointBase returns the API origin: --api, then SEED_NETWORK_API,
// then DefaultAPIBase. Trailing slashes are removed.
func (c *Config) EndpointBase() string {
	base := DefaultAPIBase
	switch {
	case c.flagAPI != "":
		base = c.flagAPI
	case c.APIBase != "":
		base = c.APIBase
	}

	return strings.TrimRight(base, "/")
}

// ExplicitEndpoint reports whether the origin was configured rather than
// defaulted. A stored credential for another origin is then ignored.
func (c *Config) ExplicitEndpoint() bool {
	return c.flagAPI != "" || c.APIBase != ""
}

// Overrides returns the ordered override list for the resolver: the
// --token flag, then SEED_NETWORK_TOKEN.
func (c *Config) Overrides() []auth.Override {
	base := c.EndpointBase()

	return []auth.Override{
		{Name: "--token flag", Token: c.flagToken, EndpointBase: base},
		{Name: "environment variable (SEED_NETWORK_TOKEN)", Token: strings.TrimSpace(c.Token), EndpointBase: base},
	}
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
