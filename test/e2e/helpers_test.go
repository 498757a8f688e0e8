package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/seedclub/seednet-mcp/internal/apiclient"
	"github.com/seedclub/seednet-mcp/internal/auth"
	"github.com/seedclub/seednet-mcp/internal/credentials"
	"github.com/seedclub/seednet-mcp/internal/mcpserver"
	"github.com/seedclub/seednet-mcp/internal/server"
	"github.com/seedclub/seednet-mcp/internal/state"
)

const (
	testEmail     = "ada@example.com"
	testHTTPToken = "e2e-http-secret"
)

// seedNetwork is a fake Seed Network origin. /auth/cli/authorize plays
// the sign-in page: it redirects straight to the loopback callback with
// a freshly minted token, or with error=access_denied when denying.
type seedNetwork struct {
	*httptest.Server

	mu      sync.Mutex
	valid   map[string]bool
	minted  int
	deny    bool
	authHit int
	seen    []string
}

func newSeedNetwork(t *testing.T) *seedNetwork {
	t.Helper()

	sn := &seedNetwork{valid: map[string]bool{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/cli/authorize", sn.handleAuthorize)
	mux.HandleFunc("/api/mcp/", sn.handleAPI)

	sn.Server = httptest.NewServer(mux)
	t.Cleanup(sn.Close)

	return sn
}

func (sn *seedNetwork) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	sn.mu.Lock()
	sn.authHit++
	deny := sn.deny
	token := ""
	if !deny {
		sn.minted++
		token = fmt.Sprintf("sn_e2e_%d", sn.minted)
		sn.valid[token] = true
	}
	sn.mu.Unlock()

	cb := url.Values{"state": {q.Get("state")}}
	if deny {
		cb.Set("error", "access_denied")
	} else {
		cb.Set("token", token)
		cb.Set("email", testEmail)
	}

	http.Redirect(w, r, "http://127.0.0.1:"+q.Get("port")+"/callback?"+cb.Encode(), http.StatusFound)
}

func (sn *seedNetwork) handleAPI(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	sn.mu.Lock()
	sn.seen = append(sn.seen, token)
	ok := sn.valid[token]
	sn.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"Unauthorized"}`)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/api/mcp") {
	case "/user":
		_, _ = fmt.Fprintf(w, `{"user":{"id":"u1","name":"Ada","email":%q,"role":"curator"},"stats":{"dealsCreated":1,"researchSaved":0,"enrichmentsSubmitted":0}}`, testEmail)
	case "/deals":
		_, _ = io.WriteString(w, `{"deals":[{"id":"d1","name":"Acme"}],"total":1}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Not found"}`)
	}
}

// mint registers a token the API accepts without a browser.
func (sn *seedNetwork) mint(token string) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	sn.valid[token] = true
}

func (sn *seedNetwork) revoke(token string) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	delete(sn.valid, token)
}

func (sn *seedNetwork) setDeny(deny bool) {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	sn.deny = deny
}

func (sn *seedNetwork) signIns() int {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	return sn.authHit
}

// browser is an Opener that follows the authorization URL like a user
// who signs in straight away.
type browser struct {
	client *http.Client
}

func (b *browser) Open(authURL string) error {
	resp, err := b.client.Get(authURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

type harnessOpts struct {
	reauthWait time.Duration
}

// harness holds the full e2e stack: the fake Seed Network, the local
// credential store and history, and the MCP server on streamable HTTP.
type harness struct {
	URL      string
	API      *seedNetwork
	Store    *credentials.Store
	History  *state.State
	Resolver *auth.Resolver
	Client   *http.Client
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	api := newSeedNetwork(t)
	dir := t.TempDir()

	store := credentials.NewStore(dir)

	history, err := state.Load(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	resolver := auth.NewResolver(auth.ResolverConfig{
		EndpointBase: api.URL,
		Store:        store,
		Opener:       &browser{client: &http.Client{Timeout: 5 * time.Second}},
		Timeout:      time.Minute,
		Recorder:     history,
		Logger:       logger,
	})
	t.Cleanup(resolver.Close)

	client := apiclient.NewClient(resolver,
		apiclient.WithReauthWait(opts.reauthWait),
		apiclient.WithLogger(logger),
	)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "seednet-mcp-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, &mcpserver.Deps{
		Client:   client,
		Resolver: resolver,
		History:  history,
		Logger:   logger,
	})

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		MCPHandler: mcpHandler,
		Logger:     logger,
		HTTPToken:  testHTTPToken,
		Status:     resolver.Status,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		URL:      ts.URL,
		API:      api,
		Store:    store,
		History:  history,
		Resolver: resolver,
		Client:   ts.Client(),
	}
}

// mcpSession creates an MCP client session authenticated with the given
// Bearer token. Uses the MCP SDK's StreamableClientTransport with a
// custom HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, token string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: token,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callJSON calls a tool and decodes its JSON text content.
func callJSON(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, dest any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(extractTextContent(t, result)), dest))

	return result
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}
