package auth

import (
	"context"
	"fmt"
)

// Info is the connection grant returned by the login endpoint.
type Info struct {
	ServiceURL string
	Token      string
	// ExpiresAt is the token expiry in unix seconds.
	ExpiresAt int64
}

// Authenticator obtains a hub grant for one client id.
type Authenticator interface {
	Authenticate(ctx context.Context, clientID string) (Info, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, clientID string) (Info, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, clientID string) (Info, error) {
	return f(ctx, clientID)
}

// Error is an authentication failure reported by the login endpoint or caused
// by an unusable response.
type Error struct {
	ClientID string
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("login %s failed: %s: %v", e.ClientID, e.Reason, e.Err)
	}
	return fmt.Sprintf("login %s failed: %s", e.ClientID, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}
