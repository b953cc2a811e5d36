package auth

import (
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// ErrorResponse is the JSON body of every failed auth endpoint
type ErrorResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HTTPStatus maps an error to the status code returned to clients
func HTTPStatus(err error) int {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return http.StatusInternalServerError
	}

	switch richErr.Category {
	case errors.CategoryValidation, errors.CategoryBadInput:
		return http.StatusBadRequest
	case errors.CategoryAuth:
		return http.StatusUnauthorized
	case errors.CategoryAuthz:
		return http.StatusForbidden
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict:
		return http.StatusConflict
	case errors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse builds the response body for err. Internal failures
// never leak their message.
func NewErrorResponse(err error) ErrorResponse {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return ErrorResponse{Message: "An unexpected server error occurred"}
	}

	res := ErrorResponse{
		Message: richErr.Message,
		Code:    richErr.TextCode,
	}

	switch HTTPStatus(richErr) {
	case http.StatusInternalServerError:
		res.Message = "An unexpected server error occurred"
		res.Code = richErr.TextCode
	case http.StatusBadRequest:
		res.Details = richErr.Metadata
	}

	return res
}

func writeError(ctx router.Context, err error) error {
	return ctx.JSON(HTTPStatus(err), NewErrorResponse(err))
}

// CookieSettings describes the refresh cookie
type CookieSettings struct {
	Name   string
	Path   string
	Secure bool
}

func DefaultCookieSettings() CookieSettings {
	return CookieSettings{
		Name:   "refresh_token",
		Path:   "/api/v1/auth",
		Secure: true,
	}
}

// CookieSettingsFromConfig overlays config values on the defaults
func CookieSettingsFromConfig(cfg Config) CookieSettings {
	s := DefaultCookieSettings()
	if cfg == nil {
		return s
	}
	if v := cfg.GetRefreshCookieName(); v != "" {
		s.Name = v
	}
	if v := cfg.GetRefreshCookiePath(); v != "" {
		s.Path = v
	}
	s.Secure = cfg.GetRefreshCookieSecure()
	return s
}

func setRefreshCookie(c router.Context, s CookieSettings, val string, expires time.Time) {
	c.Cookie(&router.Cookie{
		Name:     s.Name,
		Value:    val,
		Path:     s.Path,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   s.Secure,
		SameSite: "Strict",
	})
}

func clearRefreshCookie(c router.Context, s CookieSettings) {
	c.Cookie(&router.Cookie{
		Name:     s.Name,
		Value:    "",
		Path:     s.Path,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.Secure,
		SameSite: "Strict",
	})
}

func logRichError(logger Logger, err error) {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		logger.Error("unexpected error: %v", err)
		return
	}

	if HTTPStatus(richErr) < http.StatusInternalServerError {
		logger.Debug("request rejected: %s [%s]", richErr.Message, richErr.TextCode)
		return
	}

	logger.Error(
		"request failed: %s category=%s details=%s source=%v",
		richErr.Message,
		richErr.Category,
		print.MaybePrettyJSON(richErr.Metadata),
		richErr.Source,
	)
}
