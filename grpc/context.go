// Package grpc authenticates gRPC calls with the same credentials the HTTP
// surface accepts: "Token <key>" or "Bearer <jwt>" in the authorization
// metadata.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	acc "github.com/panyam/accounts"
)

// DefaultMetadataKeyAuthorization is the metadata key carrying the credential.
const DefaultMetadataKeyAuthorization = "authorization"

// Config holds the metadata key configuration.
type Config struct {
	// Defaults to "authorization".
	MetadataKeyAuthorization string
}

func DefaultConfig() *Config {
	return &Config{MetadataKeyAuthorization: DefaultMetadataKeyAuthorization}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
}

// AccountFromContext returns the account an interceptor authenticated, or nil.
func AccountFromContext(ctx context.Context) *acc.Account {
	return acc.AccountFromContext(ctx)
}

// AccountIDFromContext returns the authenticated account id, or "".
func AccountIDFromContext(ctx context.Context) string {
	if a := acc.AccountFromContext(ctx); a != nil {
		return a.ID
	}
	return ""
}

// IsAuthenticated returns true if an interceptor authenticated the call.
func IsAuthenticated(ctx context.Context) bool {
	return AccountIDFromContext(ctx) != ""
}

// CredentialToOutgoingContext attaches a credential such as "Bearer <jwt>"
// to outgoing calls.
func CredentialToOutgoingContext(ctx context.Context, credential string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, credential)
}

// credentialFromIncoming returns the first non-empty credential in the
// incoming metadata.
func credentialFromIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		if v != "" {
			return v
		}
	}
	return ""
}
