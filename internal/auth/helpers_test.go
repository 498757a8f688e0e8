package auth

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seedclub/seednet-mcp/internal/models"
)

const testBase = "https://api.example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory CredentialStore that counts calls.
type memStore struct {
	mu       sync.Mutex
	cred     *models.Credential
	reads    int
	writes   int
	clears   int
	writeErr error
}

func (m *memStore) Read() (models.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if m.cred == nil {
		return models.Credential{}, false
	}
	return *m.cred, true
}

func (m *memStore) Write(token, accountLabel, endpointBase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.cred = &models.Credential{
		Token:        token,
		AccountLabel: accountLabel,
		IssuedAt:     time.Now().UTC(),
		EndpointBase: endpointBase,
	}
	return nil
}

func (m *memStore) Clear() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clears++
	existed := m.cred != nil
	m.cred = nil
	return existed, nil
}

func (m *memStore) put(cred models.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = &cred
}

func (m *memStore) snapshot() (cred *models.Credential, reads, writes, clears int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred != nil {
		c := *m.cred
		cred = &c
	}
	return cred, m.reads, m.writes, m.clears
}

// gatedStore blocks every Write until release is closed. entered is
// closed when the first Write starts.
type gatedStore struct {
	memStore

	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Write(token, accountLabel, endpointBase string) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.memStore.Write(token, accountLabel, endpointBase)
}

// eventLog is a Recorder that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []models.AuthEvent
}

func (l *eventLog) Record(ev models.AuthEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) kinds() []models.AuthEventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.AuthEventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func stateOf(t *testing.T, a *Authorization) string {
	t.Helper()
	u, err := url.Parse(a.URL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

// callback performs the browser redirect against the loopback listener.
func callback(t *testing.T, port int, q url.Values) (int, string) {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s?%s", port, callbackPath, q.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// callbackAsync runs callback off the test goroutine and delivers the
// status code, or 0 when the request failed.
func callbackAsync(port int, q url.Values) <-chan int {
	out := make(chan int, 1)
	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s?%s", port, callbackPath, q.Encode()))
		if err != nil {
			out <- 0
			return
		}
		resp.Body.Close()
		out <- resp.StatusCode
	}()
	return out
}

func validCallback(state, token, email string) url.Values {
	q := url.Values{}
	q.Set("state", state)
	q.Set("token", token)
	if email != "" {
		q.Set("email", email)
	}
	return q
}
