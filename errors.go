package auth

import (
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	TextCodeEmailNotVerified     = "EMAIL_NOT_VERIFIED"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenMalformed       = "TOKEN_MALFORMED"
	TextCodeTokenNotFound        = "TOKEN_NOT_FOUND"
	TextCodeForbidden            = "FORBIDDEN"
	TextCodeNotFound             = "NOT_FOUND"
	TextCodeTooManyLoginAttempts = "TOO_MANY_LOGIN_ATTEMPTS"
	TextCodeStoreUnavailable     = "STORE_UNAVAILABLE"
	TextCodeEmailTaken           = "EMAIL_TAKEN"
	TextCodeAlreadyVerified      = "ALREADY_VERIFIED"
	TextCodeMissingCaller        = "MISSING_CALLER"
	TextCodeInvalidLink          = "INVALID_LINK"
	TextCodeBadPayload           = "BAD_PAYLOAD"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password
	ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeInvalidCredentials)

	// ErrEmailNotVerified is returned by login for accounts with a pending verification
	ErrEmailNotVerified = goerrors.New("email not verified", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeEmailNotVerified)

	ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized).
			WithTextCode(TextCodeTokenExpired)

	ErrTokenMalformed = goerrors.New("invalid or malformed token", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeTokenMalformed)

	// ErrTokenNotFound means the secret was never issued, already consumed,
	// revoked, or expired. Callers cannot tell these apart.
	ErrTokenNotFound = goerrors.New("invalid or expired token", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeTokenNotFound)

	ErrForbidden = goerrors.New("forbidden", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden).
			WithTextCode(TextCodeForbidden)

	// ErrNotFound hides resources the caller has no relationship to
	ErrNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithTextCode(TextCodeNotFound)

	ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
				WithCode(429).
				WithTextCode(TextCodeTooManyLoginAttempts)

	ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithTextCode(TextCodeEmailTaken)

	ErrAlreadyVerified = goerrors.New("email already verified", goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest).
				WithTextCode(TextCodeAlreadyVerified)

	ErrMissingCaller = goerrors.New("missing caller identity", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithTextCode(TextCodeMissingCaller)

	// ErrInvalidLink is the HTTP face of ErrTokenNotFound for emailed links
	ErrInvalidLink = goerrors.New("invalid or expired link", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeInvalidLink)

	ErrBadPayload = goerrors.New("unable to parse request payload", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode(TextCodeBadPayload)

	// ErrNoEmptyString is returned when hashing an empty password
	ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
				WithCode(goerrors.CodeBadRequest)

	// ErrMismatchedHashAndPassword password does not match stored hash
	ErrMismatchedHashAndPassword = goerrors.New("password does not match hash", goerrors.CategoryAuth).
					WithCode(goerrors.CodeUnauthorized)
)

// StoreError wraps an infrastructure failure. These must never be read as
// an authorization decision or as a missing token.
func StoreError(err error, msg string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg).
		WithCode(goerrors.CodeInternal).
		WithTextCode(TextCodeStoreUnavailable)
}

// IsRetryable reports whether err is an infrastructure failure that the
// caller may retry.
func IsRetryable(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeStoreUnavailable
	}
	return false
}

// HasTextCode reports whether err carries the given go-errors text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == code
	}
	return false
}

// asRichError keeps rich errors as they are and wraps anything else as an
// internal failure.
func asRichError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
