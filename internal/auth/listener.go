package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
	"github.com/seedclub/seednet-mcp/internal/models"
)

// callbackPath is where the browser is redirected after sign-in.
const callbackPath = "/callback"

func (s *Session) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)
	mux.HandleFunc("/", http.NotFound)

	return mux
}

// handleCallback processes one redirect from the browser. A callback with
// the wrong state is refused without ending the session, so a stray or
// forged request cannot cancel a sign-in in progress. Every other
// outcome is terminal. The outcome is settled before the page is written
// so a client that has seen the response can rely on it.
func (s *Session) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Terminal() {
		s.logger.Debug("callback after session ended")
		writeFailure(w, http.StatusBadRequest, msgExpired)
		return
	}

	if !time.Now().Before(s.expiresAt) {
		s.finish(models.Credential{}, s.timeoutError())
		writeFailure(w, http.StatusBadRequest, msgExpired)
		return
	}

	q := r.URL.Query()

	if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(s.state)) != 1 {
		s.logger.Warn("callback state mismatch")
		writeFailure(w, http.StatusBadRequest, msgStateMismatch)
		return
	}

	if reason := q.Get("error"); reason != "" {
		s.finish(models.Credential{}, fmt.Errorf("%w: %s", apperrors.ErrAuthorizationRejected, reason))
		writeFailure(w, http.StatusBadRequest, "Authentication was denied: "+reason)
		return
	}

	token := q.Get("token")
	if !models.ValidToken(token) {
		s.finish(models.Credential{}, fmt.Errorf("%w: callback carried a malformed token", apperrors.ErrAuthorizationRejected))
		writeFailure(w, http.StatusBadRequest, msgInvalidToken)
		return
	}

	account := q.Get("email")
	if account == "" {
		account = models.DefaultAccountLabel
	}

	if err := s.store.Write(token, account, s.endpointBase); err != nil {
		s.logger.Error("persisting credential", slog.String("error", err.Error()))
		s.finish(models.Credential{}, err)
		writeFailure(w, http.StatusInternalServerError, msgStoreFailed)
		return
	}

	cred, ok := s.store.Read()
	if !ok || cred.Token != token {
		cred = models.Credential{
			Token:        token,
			AccountLabel: account,
			EndpointBase: s.endpointBase,
		}
	}

	s.finish(cred, nil)
	writeSuccess(w, account)
}
