// Package apiclient performs authenticated calls against the Seed Network
// API and renews the credential once when the server rejects it.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seedclub/seednet-mcp/internal/auth"
	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
	"github.com/seedclub/seednet-mcp/internal/logging"
	"github.com/seedclub/seednet-mcp/internal/models"
)

const (
	// apiPrefix is the namespace of every tool endpoint.
	apiPrefix = "/api/mcp"

	// maxRedirects matches the net/http default.
	maxRedirects = 10

	// DefaultHTTPTimeout bounds a single request.
	DefaultHTTPTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads.
	maxResponseBytes = 4 << 20

	// DefaultUserAgent is sent when no other is configured.
	DefaultUserAgent = "seednet-mcp"
)

// CredentialResolver is the part of auth.Resolver the client needs.
type CredentialResolver interface {
	Resolve(ctx context.Context) (auth.Resolution, error)
	Reauthorize(ctx context.Context, rejected auth.Resolution) (auth.Resolution, error)
	Await(ctx context.Context) (auth.Resolution, error)
}

// Request is one API call. Path is relative to /api/mcp.
type Request struct {
	Method string
	Path   string
	Params map[string]string
	Body   any
}

// Result is either a decoded JSON body or, when the human has to sign
// in first, the pending authorization.
type Result struct {
	Body          json.RawMessage
	Authorization *auth.Authorization
}

// Pending reports whether the call could not be made yet because a
// sign-in is required.
func (r *Result) Pending() bool {
	return r.Authorization != nil
}

// Decode unmarshals the body into v.
func (r *Result) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &NetworkError{Op: "decoding response", Err: err}
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithReauthWait makes a 401 wait up to d for the new sign-in to finish
// before giving the pending authorization back to the caller. Zero
// returns it immediately.
func WithReauthWait(d time.Duration) Option {
	return func(c *Client) { c.reauthWait = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client executes authenticated requests.
type Client struct {
	resolver   CredentialResolver
	httpClient *http.Client
	userAgent  string
	reauthWait time.Duration
	logger     *slog.Logger

	// reauth collapses concurrent 401s for the same token into one
	// renewal.
	reauth singleflight.Group
}

// sameHostRedirectPolicy follows redirects only to the original host so
// the bearer token never leaves it.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns the default HTTP client with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient returns a client that takes credentials from resolver.
func NewClient(resolver CredentialResolver, opts ...Option) *Client {
	c := &Client{
		resolver:  resolver,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(DefaultHTTPTimeout)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	return c
}

// Do resolves a credential and performs req. A 401 is answered by
// renewing the credential and retrying exactly once; a second 401 is
// ErrInvalidCredential.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	res, err := c.resolver.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}
	if !res.Ready() {
		return &Result{Authorization: res.Authorization}, nil
	}

	status, body, err := c.send(ctx, res.Credential, req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized {
		return decode(status, body)
	}

	c.logger.Warn("credential rejected, renewing",
		slog.String("path", req.Path),
		slog.String("source", string(res.Source)),
		slog.String("token", logging.Redact(res.Credential.Token)),
	)

	next, err := c.renew(ctx, res)
	if err != nil {
		return nil, err
	}
	if !next.Ready() {
		return &Result{Authorization: next.Authorization}, nil
	}

	status, body, err = c.send(ctx, next.Credential, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: server rejected the renewed credential", apperrors.ErrInvalidCredential)
	}

	return decode(status, body)
}

// DoWith performs req once with cred. There is no renewal: a 401 is
// ErrInvalidCredential.
func (c *Client) DoWith(ctx context.Context, cred models.Credential, req Request) (*Result, error) {
	status, body, err := c.send(ctx, cred, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: server rejected the credential", apperrors.ErrInvalidCredential)
	}

	return decode(status, body)
}

// Get performs a GET with query params.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (*Result, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Params: params})
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Result, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Result, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE with query params.
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) (*Result, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Params: params})
}

// CurrentUser calls the whoami endpoint.
func (c *Client) CurrentUser(ctx context.Context) (*Result, error) {
	return c.Get(ctx, "/user", nil)
}

// WhoAmI calls the whoami endpoint with an explicit credential and no
// renewal.
func (c *Client) WhoAmI(ctx context.Context, cred models.Credential) (*models.UserResponse, error) {
	res, err := c.DoWith(ctx, cred, Request{Method: http.MethodGet, Path: "/user"})
	if err != nil {
		return nil, err
	}

	var user models.UserResponse
	if err := res.Decode(&user); err != nil {
		return nil, err
	}

	return &user, nil
}

// VerifyCredential checks cred against the whoami endpoint and returns
// the account email. It matches the verify hook of auth.Resolver.Connect.
func (c *Client) VerifyCredential(ctx context.Context, cred models.Credential) (string, error) {
	user, err := c.WhoAmI(ctx, cred)
	if err != nil {
		return "", err
	}

	return user.User.Email, nil
}

// renew runs one Reauthorize per rejected token no matter how many
// requests saw the 401. The flight is shared, so it runs detached from
// any single caller's cancellation and is bounded by reauthWait; each
// caller stops waiting when its own ctx is done.
func (c *Client) renew(ctx context.Context, rejected auth.Resolution) (auth.Resolution, error) {
	ch := c.reauth.DoChan(rejected.Credential.Token, func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)

		next, err := c.resolver.Reauthorize(flightCtx, rejected)
		if err != nil {
			return auth.Resolution{}, fmt.Errorf("renewing credential: %w", err)
		}
		if next.Ready() || c.reauthWait <= 0 {
			return next, nil
		}

		waitCtx, cancel := context.WithTimeout(flightCtx, c.reauthWait)
		defer cancel()

		awaited, err := c.resolver.Await(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// Still signing in; the caller gets the URL.
				return next, nil
			}
			return auth.Resolution{}, fmt.Errorf("renewing credential: %w", err)
		}

		return awaited, nil
	})

	select {
	case <-ctx.Done():
		return auth.Resolution{}, fmt.Errorf("renewing credential: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return auth.Resolution{}, r.Err
		}
		return r.Val.(auth.Resolution), nil
	}
}

// send performs one HTTP round trip and returns the status and capped
// body. Only transport failures are errors here.
func (c *Client) send(ctx context.Context, cred models.Credential, req Request) (int, []byte, error) {
	op := req.Method + " " + req.Path

	u, err := buildURL(cred.EndpointBase, req.Path, req.Params)
	if err != nil {
		return 0, nil, fmt.Errorf("building URL for %s: %w", op, err)
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshalling request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+cred.Token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, &NetworkError{Op: "sending " + op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &NetworkError{Op: "reading response to " + op, Err: err}
	}

	c.logger.Debug("api request",
		slog.String("method", method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	return resp.StatusCode, respBody, nil
}

// decode turns a non-401 response into a Result or an error.
func decode(status int, body []byte) (*Result, error) {
	if status < 200 || status > 299 {
		return nil, newAPIError(status, body)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Result{Body: json.RawMessage("null")}, nil
	}
	if !json.Valid(trimmed) {
		return nil, &NetworkError{
			Op:  "decoding response",
			Err: fmt.Errorf("malformed JSON: %s", sanitizeBody(trimmed)),
		}
	}

	return &Result{Body: json.RawMessage(trimmed)}, nil
}

// buildURL returns {base}/api/mcp{path}?{params}, skipping empty params.
func buildURL(base, path string, params map[string]string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + apiPrefix + path)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid API base %q", base)
	}

	q := u.Query()
	for k, v := range params {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
