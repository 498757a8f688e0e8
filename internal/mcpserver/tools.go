// Package mcpserver registers the Seed Network MCP tools. Every tool goes
// through the apiclient executor, so a missing or rejected credential
// surfaces as a sign-in URL instead of a failure.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/seedclub/seednet-mcp/internal/apiclient"
	"github.com/seedclub/seednet-mcp/internal/auth"
	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
	"github.com/seedclub/seednet-mcp/internal/logging"
	"github.com/seedclub/seednet-mcp/internal/models"
)

const (
	authRequiredMessage = "Authentication required for Seed Network. Please open this URL in your browser to sign in:"
	noCredentialMessage = "No stored credentials. Use /connect with a token or run any API call to trigger browser authentication."
	loggedOutMessage    = "Logged out. Next API call will require re-authentication."
	invalidTokenMessage = "Invalid token format. Seed Network tokens start with 'sn_'."
	verifyFailedMessage = "Token verification failed. The token may be invalid or expired."
	connectedMessage    = "Connected to Seed Network."
)

// History is the read side of the local auth event log.
type History interface {
	LastEvent() (*models.AuthEvent, error)
}

// Deps are the collaborators shared by all tools. History is optional.
type Deps struct {
	Client   *apiclient.Client
	Resolver *auth.Resolver
	History  History
	Logger   *slog.Logger
}

// RegisterTools adds the auth and Seed Network tools to the given MCP
// server.
func RegisterTools(server *mcp.Server, d *Deps) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "seed_logout",
		Description: "Clear stored authentication credentials. Use this to switch accounts or troubleshoot auth issues.",
	}, logoutHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "seed_auth_status",
		Description: "Check current authentication status and which account is logged in.",
	}, authStatusHandler(d))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "seed_connect",
		Description: "Connect to Seed Network by providing an API token. Verifies the token against the API and stores it for future use.",
	}, connectHandler(d))

	registerDomainTools(server, d)
}

// --- Input types ---

// EmptyInput is used by tools without parameters.
type EmptyInput struct{}

// ConnectInput holds parameters for seed_connect.
type ConnectInput struct {
	Token string `json:"token" jsonschema:"Seed Network API token starting with sn_"`
}

// --- Output types ---

type logoutOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type authStatusOutput struct {
	Authenticated  bool              `json:"authenticated"`
	Source         string            `json:"source,omitempty"`
	Email          string            `json:"email,omitempty"`
	APIBase        string            `json:"apiBase,omitempty"`
	TokenCreatedAt *time.Time        `json:"tokenCreatedAt,omitempty"`
	Message        string            `json:"message,omitempty"`
	AuthURL        string            `json:"authUrl,omitempty"`
	AuthExpiresAt  *time.Time        `json:"authExpiresAt,omitempty"`
	LastEvent      *models.AuthEvent `json:"lastEvent,omitempty"`
}

type connectOutput struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Email   string  `json:"email"`
	Name    *string `json:"name"`
	APIBase string  `json:"apiBase"`
}

type connectError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type authRequiredOutput struct {
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	AuthURL      string    `json:"authUrl"`
	Port         int       `json:"port"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Instructions []string  `json:"instructions"`
}

type apiErrorOutput struct {
	Error   string          `json:"error"`
	Status  int             `json:"status"`
	Details json.RawMessage `json:"details,omitempty"`
}

// --- Handlers ---

func logoutHandler(d *Deps) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		if _, err := d.Resolver.Logout(); err != nil {
			return errorResult(d, "seed_logout", err), nil, nil
		}

		return textResult(logoutOutput{Success: true, Message: loggedOutMessage}), nil, nil
	}
}

func authStatusHandler(d *Deps) mcp.ToolHandlerFor[EmptyInput, any] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
		st := d.Resolver.Status()

		out := authStatusOutput{
			Authenticated: st.Authenticated,
			APIBase:       st.EndpointBase,
		}

		switch {
		case st.Source == auth.SourceOverride:
			out.Source = st.Override
		case st.Authenticated:
			out.Email = st.AccountLabel
			out.TokenCreatedAt = st.IssuedAt
		default:
			out.Message = noCredentialMessage
			if st.Pending != nil {
				out.AuthURL = st.Pending.URL
				expires := st.Pending.ExpiresAt
				out.AuthExpiresAt = &expires
			}
		}

		if d.History != nil {
			last, err := d.History.LastEvent()
			if err != nil {
				d.Logger.Warn("reading auth history", slog.String("error", err.Error()))
			}
			out.LastEvent = last
		}

		return textResult(out), nil, nil
	}
}

func connectHandler(d *Deps) mcp.ToolHandlerFor[ConnectInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ConnectInput) (*mcp.CallToolResult, any, error) {
		if !models.ValidToken(input.Token) {
			return textResult(connectError{Error: invalidTokenMessage}), nil, nil
		}

		var user *models.UserResponse

		verify := func(ctx context.Context, cred models.Credential) (string, error) {
			u, err := d.Client.WhoAmI(ctx, cred)
			if err != nil {
				return "", err
			}
			user = u
			return u.User.Email, nil
		}

		cred, err := d.Resolver.Connect(ctx, input.Token, verify)
		if err != nil {
			if errors.Is(err, apperrors.ErrStore) {
				return errorResult(d, "seed_connect", err), nil, nil
			}

			d.Logger.Warn("token verification failed",
				slog.String("token", logging.Redact(input.Token)),
				slog.String("error", err.Error()),
			)
			return textResult(connectError{Error: verifyFailedMessage, Details: err.Error()}), nil, nil
		}

		out := connectOutput{
			Success: true,
			Message: connectedMessage,
			Email:   cred.AccountLabel,
			APIBase: cred.EndpointBase,
		}
		if user != nil {
			out.Name = user.User.Name
		}

		return textResult(out), nil, nil
	}
}

// --- Results ---

// authRequiredResult tells the agent where the human has to sign in. It
// is a normal result, not an error: the call can be retried afterwards.
func authRequiredResult(a *auth.Authorization) *mcp.CallToolResult {
	minutes := int(math.Ceil(time.Until(a.ExpiresAt).Minutes()))
	if minutes < 1 {
		minutes = 1
	}

	return textResult(authRequiredOutput{
		Status:    "auth_required",
		Message:   authRequiredMessage,
		AuthURL:   a.URL,
		Port:      a.Port,
		ExpiresAt: a.ExpiresAt,
		Instructions: []string{
			"1. Click or open the URL above in your browser",
			"2. Sign in with your Seed Network account",
			"3. After signing in, retry this command",
			fmt.Sprintf("Note: The auth session is active for %d minutes", minutes),
		},
	})
}

// errorResult renders a failed call. API errors are returned as data so
// the agent can read the server's message; anything else is a tool error.
func errorResult(d *Deps, tool string, err error) *mcp.CallToolResult {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return textResult(apiErrorOutput{
			Error:   apiErr.Message,
			Status:  apiErr.Status,
			Details: apiErr.Details,
		})
	}

	d.Logger.Error("tool call failed",
		slog.String("tool", tool),
		slog.String("error", err.Error()),
	)

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
