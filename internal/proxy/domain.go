package proxy

import "context"

// DomainPolicy decides whether a destination host may be reached. A denied
// request is answered with 403 Forbidden on both relays.
type DomainPolicy interface {
	Allow(ctx context.Context, host string) bool
}

// AllowAll permits every destination.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string) bool { return true }

// DomainPolicyFunc adapts a function to DomainPolicy.
type DomainPolicyFunc func(ctx context.Context, host string) bool

func (f DomainPolicyFunc) Allow(ctx context.Context, host string) bool { return f(ctx, host) }
