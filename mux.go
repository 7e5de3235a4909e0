package accounts

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// LoginLimiter throttles sign-in attempts per client and identifier.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Server exposes the account flows over HTTP.
type Server struct {
	Auth     *LocalAuth
	Social   *SocialAuth
	Profiles *ProfileService

	// Session is consulted and written when Config.SessionLogin is set.
	Session    *scs.SessionManager
	Limiter    LoginLimiter
	Middleware *Middleware
	Logger     *slog.Logger

	router *mux.Router
}

// ServerOption customizes a Server
type ServerOption func(*Server)

func WithSessions(sm *scs.SessionManager) ServerOption {
	return func(s *Server) { s.Session = sm }
}

func WithLimiter(l LoginLimiter) ServerOption {
	return func(s *Server) { s.Limiter = l }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.Logger = l }
}

// NewServer wires the handlers and builds the router. A nil social or
// profiles service leaves its routes out.
func NewServer(auth *LocalAuth, social *SocialAuth, profiles *ProfileService, opts ...ServerOption) *Server {
	s := &Server{
		Auth:     auth,
		Social:   social,
		Profiles: profiles,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !auth.Config.SessionLogin {
		s.Session = nil
	}
	s.Middleware = &Middleware{Resolver: auth, Session: s.Session, Logger: s.Logger}
	s.router = s.routes()
	if social != nil && social.Callbacks == nil {
		social.Callbacks = &RouteCallbacks{Router: s.router, BaseURL: auth.Config.BackendURL}
	}
	return s
}

// Router returns the route table, e.g. for mounting under a prefix.
func (s *Server) Router() *mux.Router { return s.router }

// Handler returns the complete handler, session loading included.
func (s *Server) Handler() http.Handler {
	if s.Session != nil {
		return s.Session.LoadAndSave(s.router)
	}
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	cfg := s.Auth.Config
	protected := s.Middleware.EnsureUser

	r.HandleFunc("/sign-up/", s.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/resend-verification/", s.handleResendVerification).Methods(http.MethodPost)
	r.HandleFunc("/email-verification/{uid}/{token}/", s.handleActivate).Methods(http.MethodGet).Name("email_activate")

	if cfg.Allows(SchemeSession) {
		r.HandleFunc("/sign-in/", s.handleSignIn).Methods(http.MethodPost)
	}
	if cfg.Allows(SchemeJWT) {
		r.HandleFunc("/token/login/", s.handleTokenLogin).Methods(http.MethodPost).Name("token_obtain_pair")
		r.HandleFunc("/token/refresh/", s.handleTokenRefresh).Methods(http.MethodPost).Name("token_refresh")
	}
	r.HandleFunc("/sign-out/", s.handleSignOut).Methods(http.MethodPost)

	r.Handle("/change-password/", protected(http.HandlerFunc(s.handleChangePassword))).Methods(http.MethodPost).Name("change_password")
	r.HandleFunc("/forgot-password/", s.handleForgotPassword).Methods(http.MethodPost).Name("forgot_password")
	r.HandleFunc("/reset-password/{uid}/{token}/", s.handleResetPassword).Methods(http.MethodGet, http.MethodPost).Name("reset_password")

	if s.Profiles != nil {
		r.Handle("/user-profile/", protected(http.HandlerFunc(s.handleListProfiles))).Methods(http.MethodGet)
		r.Handle("/user-profile/", protected(http.HandlerFunc(s.handleCreateProfile))).Methods(http.MethodPost)
		r.Handle("/user-profile/{id}/", protected(http.HandlerFunc(s.handleGetProfile))).Methods(http.MethodGet)
		r.Handle("/user-profile/{id}/", protected(http.HandlerFunc(s.handleUpdateProfile))).Methods(http.MethodPatch)
	}

	if s.Social != nil {
		for id := range s.Social.Providers {
			r.HandleFunc("/social/"+id+"/callback/", s.handleSocialCallback(id)).Methods(http.MethodGet).Name(id + "_callback")
		}
		r.HandleFunc("/social/{provider}/", s.handleSocialSignIn).Methods(http.MethodPost)
		r.Handle("/social/{provider}/connect/", protected(http.HandlerFunc(s.handleSocialConnect))).Methods(http.MethodPost)
		r.HandleFunc("/social/{provider}/authorize/", s.handleSocialAuthorize).Methods(http.MethodGet)
	}
	return r
}

// RouteCallbacks resolves provider callback URLs from the named route
// "<provider>_callback", unless Overrides names one.
type RouteCallbacks struct {
	Router    *mux.Router
	BaseURL   string
	Overrides CallbackURLs
}

func (c *RouteCallbacks) CallbackURL(provider string) (string, bool) {
	if u, ok := c.Overrides.CallbackURL(provider); ok {
		return u, true
	}
	if c.Router == nil {
		return "", false
	}
	route := c.Router.Get(provider + "_callback")
	if route == nil {
		return "", false
	}
	u, err := route.URL()
	if err != nil {
		return "", false
	}
	return strings.TrimRight(c.BaseURL, "/") + u.Path, true
}
