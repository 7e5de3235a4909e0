package accounts

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

const stateCookie = "oauthstate"

// Authorizer is implemented by providers that can start a browser
// redirect to their consent screen.
type Authorizer interface {
	AuthCodeURL(state, redirectURL string) string
}

// SocialSignIn is the body of a successful social sign-in. Each enabled
// credential scheme fills its fields.
type SocialSignIn struct {
	Token    string `json:"token,omitempty"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Access   string `json:"access,omitempty"`
	Refresh  string `json:"refresh,omitempty"`
	Created  bool   `json:"created"`
}

func (s *Server) handleSocialSignIn(w http.ResponseWriter, r *http.Request) {
	var material ExchangeMaterial
	if err := decodeBody(r, &material); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	linked, err := s.Social.Reconcile(r.Context(), mux.Vars(r)["provider"], material)
	if err != nil {
		s.fail(w, r, "message", socialStatus(err), err)
		return
	}
	session, pair, err := s.Auth.SignInVerified(r.Context(), linked.Account)
	if err != nil {
		s.fail(w, r, "message", statusOf(err), err)
		return
	}
	if err := s.startSession(r, linked.Account); err != nil {
		s.fail(w, r, "message", http.StatusInternalServerError, err)
		return
	}
	out := SocialSignIn{
		UserID:   linked.Account.ID,
		Email:    linked.Account.Email,
		Username: linked.Account.Username,
		Created:  linked.Created,
	}
	if session != nil {
		out.Token = session.Token
	}
	if pair != nil {
		out.Access, out.Refresh = pair.Access, pair.Refresh
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSocialConnect(w http.ResponseWriter, r *http.Request) {
	var material ExchangeMaterial
	if err := decodeBody(r, &material); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	link, err := s.Social.Link(r.Context(), AccountFromContext(r.Context()), mux.Vars(r)["provider"], material)
	if err != nil {
		s.fail(w, r, "message", socialStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func socialStatus(err error) int {
	switch {
	case errors.Is(err, ErrEmailCollision), errors.Is(err, ErrSocialAlreadyLinked):
		return http.StatusConflict
	case errors.Is(err, ErrSocialEmailDiffers):
		return http.StatusForbidden
	}
	return statusOf(err)
}

// handleSocialAuthorize redirects the browser to the provider with a fresh
// state cookie.
func (s *Server) handleSocialAuthorize(w http.ResponseWriter, r *http.Request) {
	providerID := mux.Vars(r)["provider"]
	provider, ok := s.Social.Providers[providerID]
	if !ok {
		s.fail(w, r, "message", http.StatusNotFound, ErrProviderNotFound)
		return
	}
	authorizer, ok := provider.(Authorizer)
	if !ok {
		s.fail(w, r, "message", http.StatusNotFound, ErrProviderNotFound)
		return
	}
	callback, ok := s.Social.Callbacks.CallbackURL(providerID)
	if !ok {
		s.fail(w, r, "message", http.StatusInternalServerError, ErrMissingCallbackURL)
		return
	}
	state, err := newState()
	if err != nil {
		s.fail(w, r, "message", http.StatusInternalServerError, internalError("generating state", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authorizer.AuthCodeURL(state, callback), http.StatusFound)
}

// handleSocialCallback relays the authorization code to the client, which
// then posts it to the sign-in endpoint.
func (s *Server) handleSocialCallback(providerID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": e, "provider": providerID})
			return
		}
		// a state cookie exists only for flows started by the authorize route
		if c, err := r.Cookie(stateCookie); err == nil {
			http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})
			if q.Get("state") != c.Value {
				s.Logger.WarnContext(r.Context(), "oauth state mismatch", "provider", providerID)
				writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid state"})
				return
			}
		}
		code := q.Get("code")
		if code == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": ErrMissingMaterial.Message})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"provider": providerID, "code": code, "state": q.Get("state")})
	}
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

