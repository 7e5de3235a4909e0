package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	acc "github.com/panyam/accounts"
)

type fakeVerifier map[string]*acc.Account

func (f fakeVerifier) AccountForCredential(_ context.Context, credential string) (*acc.Account, error) {
	if a, ok := f[credential]; ok {
		return a, nil
	}
	return nil, acc.ErrTokenNotValid
}

var alice = &acc.Account{ID: "alice-id", Username: "alice", IsActive: true}

func verifier() fakeVerifier {
	return fakeVerifier{"Bearer good": alice, "Token abc": alice}
}

func incoming(credential string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", credential))
}

func codeOf(t *testing.T, err error) codes.Code {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok, "expected grpc status error, got %v", err)
	return st.Code()
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(verifier())
	assert.True(t, config.RequireAuth)
	assert.NotNil(t, config.PublicMethods)
	assert.Equal(t, "authorization", config.MetadataKeyAuthorization)

	public := NewPublicMethodsConfig(verifier(), "/pkg.Svc/Method1")
	assert.True(t, public.PublicMethods["/pkg.Svc/Method1"])
	assert.False(t, public.PublicMethods["/pkg.Svc/Method2"])

	assert.False(t, OptionalAuthConfig(verifier()).RequireAuth)
}

func TestUnaryAuthInterceptor(t *testing.T) {
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(verifier()))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	t.Run("no credentials", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
			t.Error("handler should not be called")
			return nil, nil
		})
		assert.Equal(t, codes.Unauthenticated, codeOf(t, err))
	})

	for _, credential := range []string{"Bearer good", "Token abc"} {
		t.Run(credential, func(t *testing.T) {
			var seen string
			_, err := interceptor(incoming(credential), nil, info, func(ctx context.Context, req any) (any, error) {
				seen = AccountIDFromContext(ctx)
				return "ok", nil
			})
			require.NoError(t, err)
			assert.Equal(t, "alice-id", seen)
		})
	}

	t.Run("bad credentials", func(t *testing.T) {
		_, err := interceptor(incoming("Bearer forged"), nil, info, func(ctx context.Context, req any) (any, error) {
			t.Error("handler should not be called")
			return nil, nil
		})
		assert.Equal(t, codes.Unauthenticated, codeOf(t, err))
	})
}

func TestUnaryAuthInterceptor_PublicMethods(t *testing.T) {
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(verifier(), "/pkg.Svc/Public"))

	called := false
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Public"},
		func(ctx context.Context, req any) (any, error) {
			called = true
			assert.False(t, IsAuthenticated(ctx))
			return nil, nil
		})
	require.NoError(t, err)
	assert.True(t, called)

	// a bad credential is still rejected on a public method
	_, err = interceptor(incoming("Bearer forged"), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Public"},
		func(ctx context.Context, req any) (any, error) { return nil, nil })
	assert.Equal(t, codes.Unauthenticated, codeOf(t, err))
}

func TestUnaryAuthInterceptor_Optional(t *testing.T) {
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(verifier()))
	info := &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		assert.Nil(t, AccountFromContext(ctx))
		return nil, nil
	})
	require.NoError(t, err)

	_, err = interceptor(incoming("Bearer good"), nil, info, func(ctx context.Context, req any) (any, error) {
		assert.Equal(t, alice, AccountFromContext(ctx))
		return nil, nil
	})
	require.NoError(t, err)
}

func TestUnaryAuthInterceptor_NoVerifier(t *testing.T) {
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(nil))
	_, err := interceptor(incoming("Bearer good"), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"},
		func(ctx context.Context, req any) (any, error) { return nil, nil })
	assert.Equal(t, codes.Internal, codeOf(t, err))
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(verifier()))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(srv any, ss grpc.ServerStream) error {
		return errors.New("handler should not be called")
	})
	assert.Equal(t, codes.Unauthenticated, codeOf(t, err))

	var seen string
	err = interceptor(nil, &mockServerStream{ctx: incoming("Token abc")}, info, func(srv any, ss grpc.ServerStream) error {
		seen = AccountIDFromContext(ss.Context())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "alice-id", seen)
}

func TestCredentialToOutgoingContext(t *testing.T) {
	ctx := CredentialToOutgoingContext(context.Background(), "Bearer good")
	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	assert.Equal(t, []string{"Bearer good"}, md.Get("authorization"))
}
