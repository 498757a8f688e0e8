package models

import "time"

// AuthEventKind names a credential lifecycle transition.
type AuthEventKind string

const (
	EventSessionStarted   AuthEventKind = "session_started"
	EventSessionFulfilled AuthEventKind = "session_fulfilled"
	EventSessionRejected  AuthEventKind = "session_rejected"
	EventConnected        AuthEventKind = "connected"
	EventInvalidated      AuthEventKind = "invalidated"
	EventLoggedOut        AuthEventKind = "logged_out"
)

// AuthEvent is one entry in the local auth history. It never carries
// the token itself.
type AuthEvent struct {
	Kind         AuthEventKind `json:"kind"`
	AccountLabel string        `json:"account,omitempty"`
	EndpointBase string        `json:"apiBase,omitempty"`
	Port         int           `json:"port,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	At           time.Time     `json:"at"`
}
