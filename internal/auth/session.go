package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
	"github.com/seedclub/seednet-mcp/internal/models"
)

const (
	// DefaultSessionTimeout is how long a sign-in link stays valid.
	DefaultSessionTimeout = 5 * time.Minute

	// stateBytes is the nonce size (hex-encoded to twice this length).
	stateBytes = 16

	// authorizePath is appended to the endpoint base to build the
	// browser URL.
	authorizePath = "/auth/cli/authorize"

	// shutdownTimeout bounds the graceful close of the callback server
	// after the session ends.
	shutdownTimeout = 5 * time.Second
)

// Authorization is the "authorization required" signal. It is not an
// error: callers render it as instructions for the human.
type Authorization struct {
	URL       string    `json:"authUrl"`
	Port      int       `json:"port"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// sessionConfig holds what a session needs from its resolver.
type sessionConfig struct {
	EndpointBase string
	Store        CredentialStore
	Timeout      time.Duration
	Logger       *slog.Logger

	// OnDone runs once when the session reaches a terminal state. It
	// must not call back into the session or take the resolver lock.
	OnDone func(*Session)
}

// Session is one in-flight browser handshake. It owns the loopback
// listener; the listener never outlives the session.
type Session struct {
	state        string
	port         int
	authURL      string
	endpointBase string
	expiresAt    time.Time
	timeout      time.Duration

	store  CredentialStore
	logger *slog.Logger
	onDone func(*Session)

	listener net.Listener
	server   *http.Server

	// mu is held while an outcome is decided. Callbacks persist the
	// token under it, so the deadline and Cancel cannot end the session
	// between the store write and the fulfilled outcome.
	mu sync.Mutex

	once sync.Once
	done chan struct{}
	cred models.Credential
	err  error
}

// startSession binds the loopback port, builds the authorization URL and
// starts serving. The port is bound before the URL exists so the URL
// stays valid for the whole session.
func startSession(cfg sessionConfig) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	state, err := randomState()
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("starting callback listener: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	s := &Session{
		state:        state,
		port:         port,
		authURL:      buildAuthorizeURL(cfg.EndpointBase, port, state),
		endpointBase: cfg.EndpointBase,
		expiresAt:    time.Now().Add(cfg.Timeout),
		timeout:      cfg.Timeout,
		store:        cfg.Store,
		logger:       cfg.Logger.With(slog.Int("port", port)),
		onDone:       cfg.OnDone,
		listener:     ln,
		done:         make(chan struct{}),
	}

	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// One request per connection, so a kept-alive browser connection
	// cannot deliver a second callback.
	s.server.SetKeepAlivesEnabled(false)

	go s.serve()
	go s.expire()

	s.logger.Info("auth callback server listening")

	return s, nil
}

func (s *Session) serve() {
	err := s.server.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finish(models.Credential{}, fmt.Errorf("callback server: %w", err))
	}
}

// expire rejects the session at its deadline. The timer is released on
// every exit path.
func (s *Session) expire() {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finish(models.Credential{}, s.timeoutError())
	case <-s.done:
	}
}

func (s *Session) timeoutError() error {
	return fmt.Errorf("%w after %v, please try again", apperrors.ErrAuthorizationTimeout, s.timeout)
}

// finish records the outcome exactly once, wakes every waiter and
// releases the listener. Callers hold s.mu.
func (s *Session) finish(cred models.Credential, err error) {
	s.once.Do(func() {
		s.cred = cred
		s.err = err
		close(s.done)

		if err != nil {
			s.logger.Warn("auth session ended", slog.String("error", err.Error()))
		} else {
			s.logger.Info("auth session fulfilled", slog.String("account", cred.AccountLabel))
		}

		go s.shutdown()

		if s.onDone != nil {
			s.onDone(s)
		}
	})
}

func (s *Session) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown closes the listener at once and waits for the handler
	// that is still writing the result page.
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
	}
	_ = s.listener.Close()
}

// Cancel rejects a listening session. It is a no-op once the session is
// terminal. A callback already persisting its token completes first.
func (s *Session) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.finish(models.Credential{}, fmt.Errorf("%w: %s", apperrors.ErrAuthorizationRejected, reason))
}

// Authorization returns the pending signal for this session.
func (s *Session) Authorization() *Authorization {
	return &Authorization{
		URL:       s.authURL,
		Port:      s.port,
		ExpiresAt: s.expiresAt,
	}
}

// Done is closed when the session is fulfilled or rejected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Terminal reports whether the session has been fulfilled or rejected.
func (s *Session) Terminal() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome. ok is false while the session is still
// listening.
func (s *Session) Result() (cred models.Credential, err error, ok bool) {
	if !s.Terminal() {
		return models.Credential{}, nil, false
	}
	return s.cred, s.err, true
}

// Wait blocks until the session is terminal or ctx is done.
func (s *Session) Wait(ctx context.Context) (models.Credential, error) {
	select {
	case <-s.done:
		return s.cred, s.err
	case <-ctx.Done():
		return models.Credential{}, ctx.Err()
	}
}

// buildAuthorizeURL returns {base}/auth/cli/authorize?port=..&state=..
func buildAuthorizeURL(endpointBase string, port int, state string) string {
	q := url.Values{}
	q.Set("port", strconv.Itoa(port))
	q.Set("state", state)

	return strings.TrimRight(endpointBase, "/") + authorizePath + "?" + q.Encode()
}

func randomState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return hex.EncodeToString(b), nil
}
