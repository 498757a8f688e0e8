// Package models defines types shared across internal packages.
package models

import (
	"strings"
	"time"
)

const (
	// TokenPrefix tags every Seed Network API token.
	TokenPrefix = "sn_"

	// DefaultAccountLabel is stored when the authorization redirect does
	// not carry an email.
	DefaultAccountLabel = "unknown"

	// PendingAccountLabel marks a manually supplied token that has not
	// been verified yet.
	PendingAccountLabel = "pending"
)

// Credential is the single persisted credential record. The JSON names
// match token files written by earlier releases.
type Credential struct {
	Token        string    `json:"token"`
	AccountLabel string    `json:"email"`
	IssuedAt     time.Time `json:"createdAt"`
	EndpointBase string    `json:"apiBase"`
}

// ValidToken reports whether s looks like a Seed Network token.
func ValidToken(s string) bool {
	return strings.HasPrefix(s, TokenPrefix) && len(s) > len(TokenPrefix)
}
