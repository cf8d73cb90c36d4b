package mailbox

import "context"

// Caller identifies who is making a request. The transport layer builds it
// from verified credentials and attaches it with ContextWithCaller.
type Caller struct {
	// Subject is the authenticated identity (e.g., an email address).
	Subject string
	// SuperAdmin grants access to every workspace mailbox.
	SuperAdmin bool
}

type callerKey struct{}

// ContextWithCaller returns a copy of ctx carrying the caller.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored in ctx, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// Authorizer decides whether a caller may operate on mailboxes.
// It is consulted before any store access; a non-nil error aborts the
// operation and should wrap ErrForbidden.
type Authorizer interface {
	RequirePrivileged(ctx context.Context, caller Caller) error
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, caller Caller) error

// RequirePrivileged calls f(ctx, caller).
func (f AuthorizerFunc) RequirePrivileged(ctx context.Context, caller Caller) error {
	return f(ctx, caller)
}

// SuperAdminAuthorizer admits only super admins.
type SuperAdminAuthorizer struct{}

// RequirePrivileged implements Authorizer.
func (SuperAdminAuthorizer) RequirePrivileged(_ context.Context, caller Caller) error {
	if !caller.SuperAdmin {
		return ErrForbidden
	}
	return nil
}
