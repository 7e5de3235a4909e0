package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

const msgInternal = "Something went wrong. Please try again later"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON body, or a urlencoded form whose fields are all
// strings, into v.
func decodeBody(r *http.Request, v any) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return err
		}
		fields := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			fields[k] = r.PostForm.Get(k)
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	}
	if r.Body == nil {
		return errors.New("empty body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// statusOf is the default HTTP status for an error's kind.
func statusOf(err error) int {
	switch KindOf(err) {
	case KindValidation, KindAuthentication, KindInvalidToken:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindThrottled:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// publicMessage is the text shown to clients for err. Unexpected failures
// are not described.
func (s *Server) publicMessage(r *http.Request, err error) string {
	var ae *AuthError
	if !errors.As(err, &ae) || ae.Code == "internal" {
		s.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		return msgInternal
	}
	if ae.Kind == KindConfiguration || ae.Kind == KindInternal {
		s.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", ae.Code, "error", err)
	}
	return ae.Message
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, key string, status int, err error) {
	writeJSON(w, status, map[string]string{key: s.publicMessage(r, err)})
}

// throttle reports whether the attempt may proceed, writing the 429 itself.
func (s *Server) throttle(w http.ResponseWriter, r *http.Request, identifier string, onLimit func()) bool {
	if s.Limiter == nil {
		return true
	}
	ok, err := s.Limiter.Allow(r.Context(), limiterKey(r, identifier))
	if err != nil {
		// an unavailable limiter does not lock everyone out
		s.Logger.WarnContext(r.Context(), "rate limiter unavailable", "error", err)
		return true
	}
	if !ok {
		s.Logger.InfoContext(r.Context(), "sign-in throttled", "client", clientIP(r))
		onLimit()
	}
	return ok
}

func (s *Server) resetThrottle(r *http.Request, identifier string) {
	if resetter, ok := s.Limiter.(interface {
		Reset(ctx context.Context, key string) error
	}); ok {
		_ = resetter.Reset(r.Context(), limiterKey(r, identifier))
	}
}

func limiterKey(r *http.Request, identifier string) string {
	return clientIP(r) + "|" + strings.ToLower(strings.TrimSpace(identifier))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// startSession records the account in the scs session when session
// login is enabled.
func (s *Server) startSession(r *http.Request, account *Account) error {
	if s.Session == nil {
		return nil
	}
	if err := s.Session.RenewToken(r.Context()); err != nil {
		return internalError("renewing session", err)
	}
	s.Session.Put(r.Context(), SessionAccountKey, account.ID)
	return nil
}

// =============================================================================
// Registration & activation
// =============================================================================

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	pending, err := s.Auth.Register(r.Context(), req)
	if err != nil {
		s.fail(w, r, "message", statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": pending.Message})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "email is required"})
		return
	}
	msg, err := s.Auth.ResendActivation(r.Context(), req.Email)
	if err != nil {
		s.fail(w, r, "message", statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := s.Auth.Activate(r.Context(), vars["uid"], vars["token"])
	switch {
	case err == nil:
		fmt.Fprint(w, msgActivated)
	case KindOf(err) == KindInvalidToken:
		fmt.Fprint(w, ErrInvalidToken.Message)
	default:
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, s.publicMessage(r, err))
	}
}

// =============================================================================
// Sign-in
// =============================================================================

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}
	if !s.throttle(w, r, req.Username, func() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": ErrTooManyAttempts.Message})
	}) {
		return
	}
	cred, err := s.Auth.SignIn(r.Context(), req.Username, req.Password)
	if err != nil {
		status := statusOf(err)
		if errors.Is(err, ErrBadCredential) {
			status = http.StatusForbidden
		}
		s.fail(w, r, "message", status, err)
		return
	}
	s.resetThrottle(r, req.Username)
	account := &Account{ID: cred.UserID}
	if err := s.startSession(r, account); err != nil {
		s.fail(w, r, "message", http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

// tokenError is the body of JWT endpoint failures.
type tokenError struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func tokenErrorFor(err error) (int, tokenError) {
	switch {
	case errors.Is(err, ErrMissingLogin):
		return http.StatusUnauthorized, tokenError{ErrMissingLogin.Message, "invalid_credentials"}
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusUnauthorized, tokenError{"Account with this username/email does not exists.", "invalid_username/email"}
	case errors.Is(err, ErrBadCredential):
		return http.StatusUnauthorized, tokenError{"Incorrect Password", "password"}
	case errors.Is(err, ErrAccountInactive):
		return http.StatusUnauthorized, tokenError{"No active account found with the given credentials", "no_active_account"}
	case errors.Is(err, ErrTokenNotValid):
		return http.StatusUnauthorized, tokenError{ErrTokenNotValid.Message, ErrTokenNotValid.Code}
	case errors.Is(err, ErrTooManyAttempts):
		return http.StatusTooManyRequests, tokenError{ErrTooManyAttempts.Message, "throttled"}
	}
	return http.StatusInternalServerError, tokenError{msgInternal, "error"}
}

func (s *Server) tokenFail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := tokenErrorFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.ErrorContext(r.Context(), "token request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func (s *Server) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		s.tokenFail(w, r, ErrMissingLogin)
		return
	}
	if !s.throttle(w, r, req.Username, func() { s.tokenFail(w, r, ErrTooManyAttempts) }) {
		return
	}
	pair, err := s.Auth.SignInJWT(r.Context(), req.Username, req.Password)
	if err != nil {
		s.tokenFail(w, r, err)
		return
	}
	s.resetThrottle(r, req.Username)
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeBody(r, &req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
		return
	}
	pair, err := s.Auth.Refresh(r.Context(), req.Refresh)
	if err != nil {
		s.tokenFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if s.Session != nil {
		if err := s.Session.Destroy(r.Context()); err != nil {
			s.fail(w, r, "message", http.StatusInternalServerError, internalError("destroying session", err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Password lifecycle
// =============================================================================

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword     string `json:"old_password"`
		NewPassword     string `json:"new_password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Error": "Invalid request body"})
		return
	}
	account := AccountFromContext(r.Context())
	err := s.Auth.ChangePassword(r.Context(), account, req.OldPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		s.fail(w, r, "Error", statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"Message": msgPasswordChanged})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Message": "Invalid request body"})
		return
	}
	res, err := s.Auth.RequestReset(r.Context(), req.Email)
	if err != nil {
		status := statusOf(err)
		if errors.Is(err, ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		s.fail(w, r, "Message", status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"Message": res.Message})
}

// Actions of the reset password page
const (
	resetConfirming  = "confirming"
	resetSuccess     = "success"
	resetMismatch    = "mismatch"
	resetInvalid     = "invalid_password"
	resetInvalidLink = "invalid_link"
)

type resetPage struct {
	Action    string
	ActionURL string
	Error     string
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uid, token := vars["uid"], vars["token"]
	page := resetPage{Action: resetConfirming, ActionURL: r.URL.Path}

	var err error
	if r.Method == http.MethodPost {
		if err = r.ParseForm(); err == nil {
			err = s.Auth.ConfirmReset(r.Context(), uid, token, r.PostForm.Get("new_password"), r.PostForm.Get("confirm_password"))
		}
		if err == nil {
			page.Action = resetSuccess
		}
	} else {
		err = s.Auth.CheckReset(r.Context(), uid, token)
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrMismatch):
		page.Action = resetMismatch
	case KindOf(err) == KindInvalidToken:
		page.Action = resetInvalidLink
	case KindOf(err) == KindValidation:
		page.Action = resetInvalid
		page.Error = s.publicMessage(r, err)
	default:
		http.Error(w, s.publicMessage(r, err), http.StatusInternalServerError)
		return
	}

	body, err := render("reset_password_page.html", page)
	if err != nil {
		http.Error(w, s.publicMessage(r, err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

// =============================================================================
// Profiles
// =============================================================================

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	caller := AccountFromContext(r.Context())
	onlyMine := r.URL.Query().Get("id") != ""
	views, err := s.Profiles.List(r.Context(), caller, onlyMine)
	if err != nil {
		s.fail(w, r, "detail", statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": ErrProfileNotFound.Message})
		return
	}
	view, err := s.Profiles.Get(r.Context(), AccountFromContext(r.Context()), id)
	if err != nil {
		s.fail(w, r, "detail", statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var in ProfileUpdate
	if err := decodeBody(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}
	view, err := s.Profiles.Create(r.Context(), AccountFromContext(r.Context()), in)
	if err != nil {
		s.fail(w, r, "detail", statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := profileID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": ErrProfileNotFound.Message})
		return
	}
	var in ProfileUpdate
	if err := decodeBody(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Invalid request body"})
		return
	}
	view, err := s.Profiles.Update(r.Context(), AccountFromContext(r.Context()), id, in)
	if err != nil {
		status := statusOf(err)
		if errors.Is(err, ErrForbidden) {
			status = http.StatusForbidden
		}
		s.fail(w, r, "detail", status, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func profileID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id, err == nil && id > 0
}
