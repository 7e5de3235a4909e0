package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	acc "github.com/panyam/accounts"
)

// CredentialVerifier resolves a credential to an active account.
// accounts.LocalAuth implements it.
type CredentialVerifier interface {
	AccountForCredential(ctx context.Context, credential string) (*acc.Account, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	Verifier CredentialVerifier

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed without an account in the context.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys are full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(verifier CredentialVerifier) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(verifier CredentialVerifier, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verifier CredentialVerifier) *InterceptorConfig {
	config := DefaultInterceptorConfig(verifier)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensure() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
}

// authenticate returns ctx carrying the caller's account when the
// credential checks out. Bad credentials are rejected even on public
// methods, missing ones only where auth is required.
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	credential := credentialFromIncoming(ctx, c.MetadataKeyAuthorization)
	required := c.RequireAuth && !c.PublicMethods[method]
	if credential == "" {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	if c.Verifier == nil {
		return nil, status.Error(codes.Internal, "no credential verifier configured")
	}
	account, err := c.Verifier.AccountForCredential(ctx, credential)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}
	return acc.WithAccount(ctx, account), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates
// the authorization metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensure()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that authenticates
// the authorization metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensure()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authenticatedStream{ServerStream: ss, ctx: ctx})
	}
}

type authenticatedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedStream) Context() context.Context { return s.ctx }
