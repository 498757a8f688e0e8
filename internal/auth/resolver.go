package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
	"github.com/seedclub/seednet-mcp/internal/logging"
	"github.com/seedclub/seednet-mcp/internal/models"
)

// ErrClosed is returned by Resolve after Close.
var ErrClosed = errors.New("credential resolver closed")

// CredentialStore is the persisted credential record. Implemented by
// credentials.Store.
type CredentialStore interface {
	Read() (models.Credential, bool)
	Write(token, accountLabel, endpointBase string) error
	Clear() (bool, error)
}

// Recorder receives credential lifecycle events. Implemented by
// state.State.
type Recorder interface {
	Record(models.AuthEvent) error
}

// Source tells where a resolved credential came from.
type Source string

const (
	SourceNone     Source = "none"
	SourceOverride Source = "override"
	SourceCache    Source = "cache"
	SourceStore    Source = "store"
	SourceSession  Source = "session"
)

// Override is one entry in the ordered configuration resolution list,
// e.g. a --token flag followed by SEED_NETWORK_TOKEN. The first entry
// with a token wins.
type Override struct {
	Name         string
	Token        string
	EndpointBase string
}

// Resolution is the outcome of Resolve: either a ready credential or a
// pending authorization the caller must surface to the human.
type Resolution struct {
	Source        Source
	Credential    models.Credential
	Authorization *Authorization
}

// Ready reports whether the resolution carries a usable credential.
func (r Resolution) Ready() bool {
	return r.Authorization == nil && r.Credential.Token != ""
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Overrides []Override

	// EndpointBase is the API origin used for new sign-ins and for
	// stored records that predate the apiBase field.
	EndpointBase string

	// StrictEndpoint treats a stored credential issued for a different
	// origin as absent. Set when the endpoint was configured explicitly.
	StrictEndpoint bool

	Store    CredentialStore
	Opener   Opener
	Timeout  time.Duration
	Recorder Recorder
	Logger   *slog.Logger
}

// Status is a read-only snapshot of the resolver. It never starts a
// session.
type Status struct {
	Authenticated bool           `json:"authenticated"`
	Source        Source         `json:"source"`
	Override      string         `json:"override,omitempty"`
	AccountLabel  string         `json:"account,omitempty"`
	EndpointBase  string         `json:"apiBase,omitempty"`
	IssuedAt      *time.Time     `json:"createdAt,omitempty"`
	Pending       *Authorization `json:"pending,omitempty"`
}

type cachedCredential struct {
	cred   models.Credential
	source Source
}

// Resolver decides which credential each outbound call uses. It owns the
// in-process cache and at most one authorization session.
type Resolver struct {
	cfg    ResolverConfig
	logger *slog.Logger

	mu      sync.Mutex
	cached  *cachedCredential
	session *Session
	closed  bool
}

// NewResolver returns a resolver. A nil Opener means the URL is only
// surfaced to the caller.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Opener == nil {
		cfg.Opener = NoopOpener
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Resolver{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// EndpointBase returns the configured API origin.
func (r *Resolver) EndpointBase() string {
	return r.cfg.EndpointBase
}

// Resolve returns a credential without blocking on the browser. Order:
// override, cache, store, then start or attach to a session.
func (r *Resolver) Resolve(ctx context.Context) (Resolution, error) {
	if res, ok := r.override(); ok {
		return res, nil
	}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return Resolution{}, ErrClosed
	}

	if r.cached != nil {
		res := Resolution{Source: SourceCache, Credential: r.cached.cred}
		r.mu.Unlock()
		return res, nil
	}

	if r.session != nil {
		if !r.session.Terminal() {
			res := Resolution{Source: SourceNone, Authorization: r.session.Authorization()}
			r.mu.Unlock()
			return res, nil
		}
		// A finished session is never reused; its credential, if any,
		// is already on disk.
		r.session = nil
	}

	if cred, ok := r.readStore(); ok {
		r.cached = &cachedCredential{cred: cred, source: SourceStore}
		r.mu.Unlock()
		return Resolution{Source: SourceStore, Credential: cred}, nil
	}

	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return Resolution{}, err
	}

	sess, err := startSession(sessionConfig{
		EndpointBase: r.cfg.EndpointBase,
		Store:        r.cfg.Store,
		Timeout:      r.cfg.Timeout,
		Logger:       r.logger,
		OnDone:       r.sessionDone,
	})
	if err != nil {
		r.mu.Unlock()
		return Resolution{}, err
	}
	r.session = sess
	r.mu.Unlock()

	pending := sess.Authorization()

	r.record(models.AuthEvent{
		Kind:         models.EventSessionStarted,
		EndpointBase: r.cfg.EndpointBase,
		Port:         pending.Port,
	})

	if err := r.cfg.Opener.Open(pending.URL); err != nil {
		r.logger.Warn("could not open browser, sign-in URL returned to caller",
			slog.String("error", err.Error()),
		)
	}

	return Resolution{Source: SourceNone, Authorization: pending}, nil
}

// Await resolves and, when a session is pending, blocks until it
// finishes or ctx is done. The fulfilled credential is cached.
func (r *Resolver) Await(ctx context.Context) (Resolution, error) {
	res, err := r.Resolve(ctx)
	if err != nil || res.Ready() {
		return res, err
	}

	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()

	if sess == nil {
		return r.Resolve(ctx)
	}

	cred, err := sess.Wait(ctx)
	if err != nil {
		return Resolution{}, err
	}

	r.mu.Lock()
	if r.cached == nil {
		r.cached = &cachedCredential{cred: cred, source: SourceSession}
	}
	if r.session == sess {
		r.session = nil
	}
	r.mu.Unlock()

	return Resolution{Source: SourceSession, Credential: cred}, nil
}

// Invalidate clears the cache and the stored record. It must run before
// re-resolving after the server rejected a credential.
func (r *Resolver) Invalidate() error {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()

	if _, err := r.cfg.Store.Clear(); err != nil {
		return err
	}

	r.record(models.AuthEvent{Kind: models.EventInvalidated})

	return nil
}

// invalidateToken is Invalidate restricted to one token, so a rejection
// of an old token cannot wipe a credential written since.
func (r *Resolver) invalidateToken(token string) error {
	r.mu.Lock()
	if r.cached != nil && r.cached.cred.Token == token {
		r.cached = nil
	}
	r.mu.Unlock()

	stored, ok := r.cfg.Store.Read()
	if !ok || stored.Token != token {
		return nil
	}

	if _, err := r.cfg.Store.Clear(); err != nil {
		return err
	}

	r.logger.Info("credential rejected by server, cleared",
		slog.String("token", logging.Redact(token)),
	)
	r.record(models.AuthEvent{
		Kind:         models.EventInvalidated,
		AccountLabel: stored.AccountLabel,
		EndpointBase: stored.EndpointBase,
	})

	return nil
}

// Forget drops the cache without touching the store. Used when another
// process changes the credential file.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}

// Reauthorize handles a credential the server answered 401 for. Stored
// credentials are invalidated and a fresh resolution is started. An
// override is never invalidated; it is resolved again as-is.
func (r *Resolver) Reauthorize(ctx context.Context, rejected Resolution) (Resolution, error) {
	if rejected.Source != SourceOverride {
		if err := r.invalidateToken(rejected.Credential.Token); err != nil {
			return Resolution{}, err
		}
	}

	return r.Resolve(ctx)
}

// Connect is the manual token path. A listening session is cancelled
// first so a browser callback cannot overwrite the manual token. The
// token is persisted and cached before verify runs; on failure
// everything just written is rolled back. verify returns the account
// label to store.
func (r *Resolver) Connect(ctx context.Context, token string, verify func(context.Context, models.Credential) (string, error)) (models.Credential, error) {
	if !models.ValidToken(token) {
		return models.Credential{}, fmt.Errorf("%w: token must start with %q", apperrors.ErrInvalidCredential, models.TokenPrefix)
	}

	r.mu.Lock()
	sess := r.session
	r.session = nil
	r.mu.Unlock()

	if sess != nil {
		// Blocks until a callback that is already writing its token has
		// finished.
		sess.Cancel("token supplied manually")
	}

	base := r.cfg.EndpointBase

	if err := r.cfg.Store.Write(token, models.PendingAccountLabel, base); err != nil {
		return models.Credential{}, err
	}

	cred := models.Credential{
		Token:        token,
		AccountLabel: models.PendingAccountLabel,
		IssuedAt:     time.Now().UTC(),
		EndpointBase: base,
	}

	r.mu.Lock()
	r.cached = &cachedCredential{cred: cred, source: SourceStore}
	r.mu.Unlock()

	label, err := verify(ctx, cred)
	if err != nil {
		if rbErr := r.invalidateToken(token); rbErr != nil {
			r.logger.Error("rolling back unverified token", slog.String("error", rbErr.Error()))
		}
		return models.Credential{}, fmt.Errorf("verifying token: %w", err)
	}

	if label == "" {
		label = models.DefaultAccountLabel
	}

	if err := r.cfg.Store.Write(token, label, base); err != nil {
		return models.Credential{}, err
	}
	cred.AccountLabel = label

	r.mu.Lock()
	r.cached = &cachedCredential{cred: cred, source: SourceStore}
	r.mu.Unlock()

	r.logger.Info("connected with manual token",
		slog.String("account", label),
		slog.String("token", logging.Redact(token)),
	)
	r.record(models.AuthEvent{
		Kind:         models.EventConnected,
		AccountLabel: label,
		EndpointBase: base,
	})

	return cred, nil
}

// Logout clears the cache and the stored record. No network call is
// made. It reports whether a record was present.
func (r *Resolver) Logout() (bool, error) {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()

	existed, err := r.cfg.Store.Clear()
	if err != nil {
		return false, err
	}

	r.record(models.AuthEvent{Kind: models.EventLoggedOut})

	return existed, nil
}

// Pending returns the listening session's authorization, or nil.
func (r *Resolver) Pending() *Authorization {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.Terminal() {
		return nil
	}

	return r.session.Authorization()
}

// Status reports the current credential without starting a session.
func (r *Resolver) Status() Status {
	for _, o := range r.cfg.Overrides {
		if o.Token != "" {
			return Status{
				Authenticated: true,
				Source:        SourceOverride,
				Override:      o.Name,
				EndpointBase:  r.overrideBase(o),
			}
		}
	}

	st := Status{Source: SourceNone, Pending: r.Pending()}

	r.mu.Lock()
	cached := r.cached
	r.mu.Unlock()

	var (
		cred models.Credential
		ok   bool
	)
	if cached != nil {
		cred, ok = cached.cred, true
		st.Source = SourceCache
	} else if cred, ok = r.readStore(); ok {
		st.Source = SourceStore
	}

	if ok {
		st.Authenticated = true
		st.AccountLabel = cred.AccountLabel
		st.EndpointBase = cred.EndpointBase
		if !cred.IssuedAt.IsZero() {
			issued := cred.IssuedAt
			st.IssuedAt = &issued
		}
	}

	return st
}

// Close cancels any listening session and makes Resolve fail.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	sess := r.session
	r.session = nil
	r.mu.Unlock()

	if sess != nil {
		sess.Cancel("shutting down")
	}
}

func (r *Resolver) override() (Resolution, bool) {
	for _, o := range r.cfg.Overrides {
		if o.Token == "" {
			continue
		}

		return Resolution{
			Source: SourceOverride,
			Credential: models.Credential{
				Token:        o.Token,
				AccountLabel: o.Name,
				EndpointBase: r.overrideBase(o),
			},
		}, true
	}

	return Resolution{}, false
}

func (r *Resolver) overrideBase(o Override) string {
	if o.EndpointBase != "" {
		return o.EndpointBase
	}
	return r.cfg.EndpointBase
}

// readStore reads the record and applies the endpoint rules: a record
// without apiBase gets the configured one, and with StrictEndpoint a
// record for another origin is ignored.
func (r *Resolver) readStore() (models.Credential, bool) {
	cred, ok := r.cfg.Store.Read()
	if !ok {
		return models.Credential{}, false
	}

	if cred.EndpointBase == "" {
		cred.EndpointBase = r.cfg.EndpointBase
		return cred, true
	}

	if r.cfg.StrictEndpoint && cred.EndpointBase != r.cfg.EndpointBase {
		r.logger.Debug("stored credential is for another endpoint",
			slog.String("stored", cred.EndpointBase),
			slog.String("configured", r.cfg.EndpointBase),
		)
		return models.Credential{}, false
	}

	return cred, true
}

// sessionDone runs inside the session's terminal transition. It must not
// take r.mu: Close and Connect cancel sessions.
func (r *Resolver) sessionDone(s *Session) {
	cred, err, _ := s.Result()

	ev := models.AuthEvent{
		EndpointBase: s.endpointBase,
		Port:         s.port,
	}
	if err != nil {
		ev.Kind = models.EventSessionRejected
		ev.Detail = err.Error()
	} else {
		ev.Kind = models.EventSessionFulfilled
		ev.AccountLabel = cred.AccountLabel
	}

	r.record(ev)
}

func (r *Resolver) record(ev models.AuthEvent) {
	if r.cfg.Recorder == nil {
		return
	}

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	if err := r.cfg.Recorder.Record(ev); err != nil {
		r.logger.Debug("recording auth event", slog.String("kind", string(ev.Kind)), slog.String("error", err.Error()))
	}
}
