/*Package access provides utilities for access control.

An Authorization is attached to the request context by the JWT
middleware and consumed by the generated route handlers through the
policy gate in Authorize.
*/
package access

import (
	"context"
	"errors"
	"sync"

	"github.com/succeedex/modelapi/core"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// RolePublic is the sentinel role. An operation whose required roles
// contain it is open to unauthenticated callers.
const RolePublic = "public"

// Authorization is a context object which stores the authenticated
// caller for the duration of a request.
//
// Authorizations are added to a request context with
//
//	ctx = auth.ContextWithAuthorization(ctx)
//
// and retrieved with
//
//	auth := AuthorizationFromContext(ctx)
type Authorization struct {
	// ID is the identifier of the caller's user record. Empty for
	// anonymous authorizations.
	ID string `json:"id,omitempty"`
	// Role is the caller's single role, e.g. "admin" or "staff".
	Role string `json:"role,omitempty"`
	// Anonymous marks the synthetic authorization minted for public
	// operations when no credentials were presented.
	Anonymous bool `json:"anonymous,omitempty"`
}

// Anonymous returns the synthetic authorization for unauthenticated
// access to public operations.
func Anonymous() *Authorization {
	return &Authorization{Anonymous: true}
}

// HasRole returns true if the authorization carries the requested role.
func (a *Authorization) HasRole(role string) bool {
	return a != nil && !a.Anonymous && a.Role == role
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// Policy maps each operation of an entity to its required roles.
// Operations missing from the policy require authentication but no
// particular role.
type Policy map[core.Operation][]string

// authorization gate errors
var (
	// ErrUnauthenticated means no valid credentials were presented.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden means the caller is authenticated but its role is
	// not sufficient for the operation.
	ErrForbidden = errors.New("insufficient role")
)

// Authorize gates an operation against a policy.
//
// If the operation's required roles contain the public sentinel, any
// caller passes; an absent authorization is promoted to the anonymous
// one. Otherwise the caller must be authenticated, and when the role
// list is non-empty the caller's role must appear in it. An empty
// role list requires authentication only.
func Authorize(operation core.Operation, policy Policy, auth *Authorization) (*Authorization, error) {
	required := policy[operation]

	for _, role := range required {
		if role == RolePublic {
			if auth == nil {
				return Anonymous(), nil
			}
			return auth, nil
		}
	}

	if auth == nil || auth.Anonymous {
		return nil, ErrUnauthenticated
	}
	if len(required) == 0 {
		return auth, nil
	}
	for _, role := range required {
		if auth.Role == role {
			return auth, nil
		}
	}
	return nil, ErrForbidden
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// jwt middleware to cache authorization objects for bearer tokens.
// The purpose of the cache is to reduce the number of database queries, without
// the cache the middleware would have to lookup the authorization for every single
// request.
//
// Entries live for the lifetime of the process and are never invalidated:
// a role change or a deleted user record only takes effect once the caller
// presents a fresh token. Token lifetime therefore bounds how long a stale
// authorization can survive.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from in-process cache.
// Token should be the temporary token the authorization was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-memory cache.
// Token should be the temporary token it was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}
