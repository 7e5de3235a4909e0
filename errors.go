package accounts

import (
	"errors"
	"fmt"
)

// ErrorKind groups failures by how a caller should react to them.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuthentication
	KindInvalidToken
	KindNotFound
	KindConfiguration
	KindThrottled
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindInvalidToken:
		return "invalid_token"
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	case KindThrottled:
		return "throttled"
	}
	return "internal"
}

// Error codes carried by AuthError.Code
const (
	ErrCodeMissingField       = "missing_field"
	ErrCodeInvalidField       = "invalid_field"
	ErrCodeAccountNotFound    = "account_not_found"
	ErrCodeBadCredential      = "bad_credential"
	ErrCodeAccountInactive    = "account_inactive"
	ErrCodeUsernameTaken      = "username_taken"
	ErrCodeEmailTaken         = "email_taken"
	ErrCodeInvalidToken       = "invalid_token"
	ErrCodeWrongOldSecret     = "wrong_old_secret"
	ErrCodeMismatch           = "mismatch"
	ErrCodeEmailCollision     = "email_collision"
	ErrCodeProviderNotFound   = "provider_not_found"
	ErrCodeProviderExchange   = "provider_exchange"
	ErrCodeSocialLinked       = "social_already_linked"
	ErrCodeSocialEmailDiffers = "social_email_differs"
	ErrCodeMissingMaterial    = "missing_material"
	ErrCodeMissingCallback    = "missing_callback_url"
	ErrCodeSchemeDisabled     = "scheme_disabled"
	ErrCodeProfileExists      = "profile_exists"
	ErrCodeProfileNotFound    = "profile_not_found"
	ErrCodeForbidden          = "forbidden"
	ErrCodeTooManyAttempts    = "too_many_attempts"
	ErrCodeMailFailed         = "mail_failed"
)

// AuthError is the error type returned by every account operation.
// Two AuthErrors match under errors.Is when their codes are equal, so a
// sentinel can be compared against a copy carrying extra detail.
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	Err     error
}

// NewAuthError creates a validation error for the given field
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Kind: KindValidation, Code: code, Message: message, Field: field}
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool {
	var other *AuthError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *AuthError) Wrap(cause error) *AuthError {
	out := *e
	out.Err = cause
	return &out
}

// WithMessage returns a copy of e with a different human readable message.
func (e *AuthError) WithMessage(msg string) *AuthError {
	out := *e
	out.Message = msg
	return &out
}

var (
	ErrAccountNotFound = &AuthError{Kind: KindAuthentication, Code: ErrCodeAccountNotFound, Message: "User does not exist."}
	ErrBadCredential   = &AuthError{Kind: KindAuthentication, Code: ErrCodeBadCredential, Message: "Invalid password", Field: "password"}
	ErrAccountInactive = &AuthError{Kind: KindAuthentication, Code: ErrCodeAccountInactive, Message: "Unverified account .Please check your email and verify your account."}
	ErrTokenNotValid   = &AuthError{Kind: KindAuthentication, Code: "token_not_valid", Message: "Token is invalid or expired"}
	ErrMissingLogin    = &AuthError{Kind: KindValidation, Code: "missing_credentials", Message: "username/email or password is missing."}

	ErrUsernameTaken = &AuthError{Kind: KindValidation, Code: ErrCodeUsernameTaken, Message: "Username is already registered", Field: "username"}
	ErrEmailTaken    = &AuthError{Kind: KindValidation, Code: ErrCodeEmailTaken, Message: "Email is already registered", Field: "email"}

	ErrInvalidToken   = &AuthError{Kind: KindInvalidToken, Code: ErrCodeInvalidToken, Message: "Activation link is invalid!"}
	ErrWrongOldSecret = &AuthError{Kind: KindValidation, Code: ErrCodeWrongOldSecret, Message: "Incorrect old password", Field: "old_password"}
	ErrMismatch       = &AuthError{Kind: KindValidation, Code: ErrCodeMismatch, Message: "New and Confirm passwords do not match.", Field: "confirm_password"}

	ErrEmailCollision       = &AuthError{Kind: KindAuthentication, Code: ErrCodeEmailCollision, Message: "An account with this email already exists. Sign in with your password and connect this provider from your account."}
	ErrProviderNotFound     = &AuthError{Kind: KindNotFound, Code: ErrCodeProviderNotFound, Message: "Unknown social provider"}
	ErrProviderExchange     = &AuthError{Kind: KindAuthentication, Code: ErrCodeProviderExchange, Message: "Incorrect value"}
	ErrProviderEmailMissing = &AuthError{Kind: KindAuthentication, Code: "provider_email_missing", Message: "The provider did not share an email address"}
	ErrProviderEmailUnverified = &AuthError{Kind: KindAuthentication, Code: "provider_email_unverified", Message: "The provider has not verified this email address"}
	ErrSocialAlreadyLinked  = &AuthError{Kind: KindValidation, Code: ErrCodeSocialLinked, Message: "This social account is already connected to another user"}
	ErrSocialEmailDiffers   = &AuthError{Kind: KindAuthentication, Code: ErrCodeSocialEmailDiffers, Message: "The provider email does not match your account email"}
	ErrMissingMaterial      = &AuthError{Kind: KindValidation, Code: ErrCodeMissingMaterial, Message: "Incorrect input. access_token or code is required."}
	ErrMissingCallbackURL   = &AuthError{Kind: KindConfiguration, Code: ErrCodeMissingCallback, Message: "No callback URL is configured for this provider"}
	ErrSchemeDisabled       = &AuthError{Kind: KindConfiguration, Code: ErrCodeSchemeDisabled, Message: "This sign-in scheme is not enabled"}

	ErrProfileExists   = &AuthError{Kind: KindValidation, Code: ErrCodeProfileExists, Message: "Profile already exists for this user"}
	ErrProfileNotFound = &AuthError{Kind: KindNotFound, Code: ErrCodeProfileNotFound, Message: "Not found."}
	ErrForbidden       = &AuthError{Kind: KindAuthentication, Code: ErrCodeForbidden, Message: "You do not have permission to perform this action."}

	ErrTooManyAttempts = &AuthError{Kind: KindThrottled, Code: ErrCodeTooManyAttempts, Message: "Too many login attempts"}
	ErrMailFailed      = &AuthError{Kind: KindInternal, Code: ErrCodeMailFailed, Message: "Could not send an email. Please try again later"}
)

// Store level errors. Store implementations translate their driver errors
// into these so flows never depend on a particular database.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrConflict       = errors.New("record already exists")
	ErrStaleState     = errors.New("record changed concurrently")
)

// KindOf reports the kind of err, KindInternal when err is not an AuthError.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// internalError wraps an unexpected lower level failure.
func internalError(msg string, err error) *AuthError {
	return &AuthError{Kind: KindInternal, Code: "internal", Message: msg, Err: err}
}
