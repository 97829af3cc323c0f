// Package store holds the process-wide credential pair used by the
// authenticated client.
//
// A CredentialStore always hands out whole-pair snapshots: readers see
// either the pair before a write or the pair after it, never a mix of the
// two. Set replaces both tokens in one step and Clear removes both.
package store

import (
	"context"
	"errors"
)

// Keys under which the tokens are persisted.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

var ErrStoreClosed = errors.New("credential store closed")

// Credentials is the access/refresh token pair. An empty string means the
// token is absent.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// HasAccessToken reports whether an access token is present.
func (c Credentials) HasAccessToken() bool {
	return c.AccessToken != ""
}

// HasRefreshToken reports whether a refresh token is present.
func (c Credentials) HasRefreshToken() bool {
	return c.RefreshToken != ""
}

// IsEmpty reports whether neither token is present.
func (c Credentials) IsEmpty() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// CredentialStore is the persistent key-value home of the token pair.
type CredentialStore interface {
	// Get returns a consistent snapshot of both tokens.
	Get(ctx context.Context) (Credentials, error)
	// Set atomically replaces both tokens.
	Set(ctx context.Context, creds Credentials) error
	// Clear atomically removes both tokens.
	Clear(ctx context.Context) error
}
