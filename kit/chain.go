package kit

import "context"

// Endpoint is the generic request/response shape used by in-process RPC
// handlers: decode produces req, the endpoint produces resp, transport-level
// code re-encodes resp. Using `any` here (rather than a byte-oriented
// Handler) lets middleware such as audit logging inspect and re-marshal
// structured request/response values without a decode round-trip.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint, adding cross-cutting behaviour (audit
// logging, policy checks, timing) without changing its signature.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper (executed first on the request path).
//
//	chain := Chain(audit, policy)
//	wrapped := chain(baseEndpoint)
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
