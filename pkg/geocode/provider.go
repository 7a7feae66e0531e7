package geocode

import "context"

// Provider is a single stateless geocoding backend. Implementations carry
// no caching or rate limiting; that belongs to the Resolver.
type Provider interface {
	Name() string

	// Resolve geocodes one address. A nil error with Valid=false is a
	// normal "address not found" outcome; a *ProviderError means the call
	// itself failed and the caller may retry later.
	Resolve(ctx context.Context, address string) (*Result, error)
}
