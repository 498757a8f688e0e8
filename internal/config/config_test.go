package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"SEED_NETWORK_TOKEN",
		"SEED_NETWORK_API",
		"SEED_NETWORK_CONFIG_DIR",
		"SEED_NETWORK_AUTH_TIMEOUT",
		"SEED_NETWORK_NO_BROWSER",
		"SEED_NETWORK_HTTP_TIMEOUT",
		"SEED_NETWORK_REAUTH_WAIT",
		"ENVIRONMENT",
		"LOG_LEVEL",
		"MCP_LISTEN_ADDR",
		"MCP_HTTP_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	// Keep a stray .env in the package directory out of the tests.
	t.Chdir(t.TempDir())
}

// --- Load: defaults ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(Flags{})
	require.NoError(t, err)

	assert.Equal(t, DefaultAPIBase, cfg.EndpointBase())
	assert.False(t, cfg.ExplicitEndpoint())
	assert.Equal(t, 5*time.Minute, cfg.AuthTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Zero(t, cfg.ReauthWait)
	assert.False(t, cfg.NoBrowser)
	assert.Equal(t, "development", cfg.Environment)
	assert.Empty(t, cfg.MCPListenAddr)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), ".config", "seed-network"), cfg.ConfigDir)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromEnv(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Setenv("SEED_NETWORK_TOKEN", "sn_env")
	t.Setenv("SEED_NETWORK_API", "http://localhost:3000/")
	t.Setenv("SEED_NETWORK_CONFIG_DIR", dir)
	t.Setenv("SEED_NETWORK_AUTH_TIMEOUT", "2m")
	t.Setenv("SEED_NETWORK_NO_BROWSER", "true")
	t.Setenv("SEED_NETWORK_HTTP_TIMEOUT", "10s")
	t.Setenv("SEED_NETWORK_REAUTH_WAIT", "90s")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(Flags{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3000", cfg.EndpointBase())
	assert.True(t, cfg.ExplicitEndpoint())
	assert.Equal(t, dir, cfg.ConfigDir)
	assert.Equal(t, 2*time.Minute, cfg.AuthTimeout)
	assert.True(t, cfg.NoBrowser)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 90*time.Second, cfg.ReauthWait)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_RelativeConfigDirMadeAbsolute(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SEED_NETWORK_CONFIG_DIR", "rel/dir")

	cfg, err := Load(Flags{})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.ConfigDir))
}

// --- Precedence ---

func TestOverrides_FlagBeforeEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SEED_NETWORK_CONFIG_DIR", t.TempDir())
	t.Setenv("SEED_NETWORK_TOKEN", "sn_env")
	t.Setenv("SEED_NETWORK_API", "https://env.example.com")

	cfg, err := Load(Flags{Token: "sn_flag", API: "https://flag.example.com"})
	require.NoError(t, err)

	assert.Equal(t, "https://flag.example.com", cfg.EndpointBase())

	overrides := cfg.Overrides()
	require.Len(t, overrides, 2)
	assert.Equal(t, "sn_flag", overrides[0].Token)
	assert.Equal(t, "sn_env", overrides[1].Token)
	assert.Equal(t, "https://flag.example.com", overrides[1].EndpointBase)
}

func TestOverrides_EmptyWhenUnset(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("SEED_NETWORK_CONFIG_DIR", t.TempDir())

	cfg, err := Load(Flags{})
	require.NoError(t, err)

	for _, o := range cfg.Overrides() {
		assert.Empty(t, o.Token)
	}
}

// --- Validation ---

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		flags   Flags
		wantErr string
	}{
		{"api without scheme", map[string]string{"SEED_NETWORK_API": "beta.seedclub.com"}, Flags{}, "SEED_NETWORK_API"},
		{"api ftp", map[string]string{"SEED_NETWORK_API": "ftp://x.example.com"}, Flags{}, "scheme"},
		{"flag api", nil, Flags{API: "nope"}, "--api"},
		{"zero auth timeout", map[string]string{"SEED_NETWORK_AUTH_TIMEOUT": "0s"}, Flags{}, "SEED_NETWORK_AUTH_TIMEOUT"},
		{"bad duration", map[string]string{"SEED_NETWORK_HTTP_TIMEOUT": "soon"}, Flags{}, "parsing config"},
		{"negative reauth wait", map[string]string{"SEED_NETWORK_REAUTH_WAIT": "-1s"}, Flags{}, "SEED_NETWORK_REAUTH_WAIT"},
		{"bad listen addr", map[string]string{"MCP_LISTEN_ADDR": "8090"}, Flags{}, "MCP_LISTEN_ADDR"},
		{"public listen without token", map[string]string{"MCP_LISTEN_ADDR": ":8090"}, Flags{}, "MCP_HTTP_TOKEN"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("SEED_NETWORK_CONFIG_DIR", t.TempDir())
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := Load(tc.flags)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_ListenAddr(t *testing.T) {
	tests := []struct {
		addr  string
		token string
	}{
		{"127.0.0.1:8090", ""},
		{"localhost:8090", ""},
		{"[::1]:8090", ""},
		{"0.0.0.0:8090", "secret"},
	}

	for _, tc := range tests {
		t.Run(tc.addr, func(t *testing.T) {
			clearConfigEnv(t)
			t.Setenv("SEED_NETWORK_CONFIG_DIR", t.TempDir())
			t.Setenv("MCP_LISTEN_ADDR", tc.addr)
			t.Setenv("MCP_HTTP_TOKEN", tc.token)

			cfg, err := Load(Flags{})
			require.NoError(t, err)
			assert.Equal(t, tc.addr, cfg.MCPListenAddr)
		})
	}
}

// --- .env ---

func TestLoad_DotEnvFile(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(".env", []byte("SEED_NETWORK_TOKEN=sn_dotenv\nSEED_NETWORK_CONFIG_DIR="+dir+"\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SEED_NETWORK_TOKEN")
		os.Unsetenv("SEED_NETWORK_CONFIG_DIR")
	})

	cfg, err := Load(Flags{})
	require.NoError(t, err)
	assert.Equal(t, "sn_dotenv", cfg.Token)
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:1"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":1"))
	assert.False(t, isLoopbackAddr("0.0.0.0:1"))
	assert.False(t, isLoopbackAddr("10.0.0.2:1"))
	assert.False(t, isLoopbackAddr("garbage"))
}
