package accounts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
)

type accountContextKey struct{}

// SessionAccountKey is the scs session key holding the signed in account id.
const SessionAccountKey = "account_id"

// AccountFromContext returns the account the request was authenticated as,
// or nil.
func AccountFromContext(ctx context.Context) *Account {
	a, _ := ctx.Value(accountContextKey{}).(*Account)
	return a
}

// WithAccount returns a copy of ctx carrying account.
func WithAccount(ctx context.Context, account *Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountResolver resolves request credentials to active accounts.
// LocalAuth implements it.
type AccountResolver interface {
	AccountForCredential(ctx context.Context, credential string) (*Account, error)
	AccountForID(ctx context.Context, id string) (*Account, error)
}

// Middleware authenticates requests from the Authorization header and,
// when Session is set, from the scs session.
type Middleware struct {
	Resolver AccountResolver
	Session  *scs.SessionManager

	// Defaults to Authorization
	HeaderName string

	Logger *slog.Logger
}

var errNoCredentials = errors.New("no credentials")

func (m *Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger
}

// ExtractUser loads the caller into the request context when the request
// carries valid credentials. It never rejects a request.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if account, err := m.authenticate(r); err == nil {
			r = r.WithContext(WithAccount(r.Context(), account))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects requests without valid credentials with a 401.
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AccountFromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		account, err := m.authenticate(r)
		if err != nil {
			detail := map[string]string{"detail": "Authentication credentials were not provided."}
			if !errors.Is(err, errNoCredentials) {
				m.logger().DebugContext(r.Context(), "rejected credentials", "path", r.URL.Path, "error", err)
				detail = map[string]string{"detail": "Invalid token.", "code": ErrTokenNotValid.Code}
			}
			writeJSON(w, http.StatusUnauthorized, detail)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func (m *Middleware) authenticate(r *http.Request) (*Account, error) {
	header := m.HeaderName
	if header == "" {
		header = "Authorization"
	}
	if credential := strings.TrimSpace(r.Header.Get(header)); credential != "" {
		return m.Resolver.AccountForCredential(r.Context(), credential)
	}
	if m.Session != nil {
		if id := m.Session.GetString(r.Context(), SessionAccountKey); id != "" {
			return m.Resolver.AccountForID(r.Context(), id)
		}
	}
	return nil, errNoCredentials
}
