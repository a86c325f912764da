package ports

import "context"

// AuthContext identifies the caller of an admin endpoint.
type AuthContext struct {
	Principal string
}

// AuthProvider validates bearer tokens presented to admin endpoints.
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (*AuthContext, error)
}
