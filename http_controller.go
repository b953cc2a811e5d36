package auth

import (
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the auth endpoints on app. Routes that need a
// caller are wrapped with the request gate.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	r := controller.Routes
	gated := controller.Gate

	app.Post(r.path(r.Register), controller.Register).
		SetName("auth.register.post")

	app.Post(r.path(r.Login), controller.Login).
		SetName("auth.login.post")

	app.Post(r.path(r.Refresh), controller.RefreshToken).
		SetName("auth.refresh.post")

	app.Post(r.path(r.Logout), controller.Logout).
		SetName("auth.logout.post")

	app.Get(r.path(r.VerifyEmail+"/:token"), controller.VerifyEmail).
		SetName("auth.verify-email.get")

	app.Post(r.path(r.ResendVerification), controller.ResendVerification).
		SetName("auth.verify-email-resend.post")

	app.Post(r.path(r.ForgotPassword), controller.ForgotPassword).
		SetName("auth.forgot-password.post")

	app.Post(r.path(r.ResetPassword+"/:token"), controller.ResetPassword).
		SetName("auth.reset-password.post")

	app.Get(r.path(r.CurrentUser), gated(controller.CurrentUser)).
		SetName("auth.current-user.get")

	app.Post(r.path(r.ChangePassword), gated(controller.ChangePassword)).
		SetName("auth.change-password.post")

	app.Get(r.path(r.ProjectRole), gated(controller.ProjectRole)).
		SetName("auth.project-role.get")

	return controller
}

type AuthControllerRoutes struct {
	Base               string
	Register           string
	Login              string
	Refresh            string
	Logout             string
	VerifyEmail        string
	ResendVerification string
	ForgotPassword     string
	ResetPassword      string
	CurrentUser        string
	ChangePassword     string
	ProjectRole        string
}

func (r *AuthControllerRoutes) path(p string) string {
	return r.Base + p
}

type AuthController struct {
	Debug    bool
	Logger   Logger
	Sessions *SessionManager
	Tokens   *TokenService
	Resolver *Resolver
	Cookie   CookieSettings
	Routes   *AuthControllerRoutes
	// ContextKey is the locals key the gate stores the caller under
	ContextKey string
	// Gate wraps handlers that require a caller
	Gate         router.MiddlewareFunc
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if logger != nil {
			ac.Logger = logger
		}
		return ac
	}
}

func WithSessionManager(sessions *SessionManager) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Sessions = sessions
		return ac
	}
}

func WithTokenService(tokens *TokenService) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Tokens = tokens
		return ac
	}
}

func WithResolver(resolver *Resolver) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Resolver = resolver
		return ac
	}
}

func WithCookieSettings(settings CookieSettings) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Cookie = settings
		return ac
	}
}

// WithRequestGate overrides the gate built from the token service
func WithRequestGate(gate router.MiddlewareFunc) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Gate = gate
		return ac
	}
}

// WithControllerContextKey sets the caller locals key used by the built in
// gate and by the gated handlers
func WithControllerContextKey(key string) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if key != "" {
			ac.ContextKey = key
		}
		return ac
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

func WithBasePath(base string) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Routes.Base = base
		return ac
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:     defLogger{},
		Cookie:     DefaultCookieSettings(),
		ContextKey: DefaultContextKey,
		Routes: &AuthControllerRoutes{
			Base:               "/api/v1/auth",
			Register:           "/register",
			Login:              "/login",
			Refresh:            "/refresh-token",
			Logout:             "/logout",
			VerifyEmail:        "/verify-email",
			ResendVerification: "/resend-email-verification",
			ForgotPassword:     "/forgot-password",
			ResetPassword:      "/reset-password",
			CurrentUser:        "/current-user",
			ChangePassword:     "/change-password",
			ProjectRole:        "/projects/:projectId/role",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing SessionManager in auth controller...")
	}

	if c.Gate == nil {
		if c.Tokens == nil {
			panic("Missing TokenService in auth controller...")
		}
		c.Gate = NewRequestGate(c.Tokens, WithGateContextKey(c.ContextKey))
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.defaultErrHandler
	}

	return c
}

func (a *AuthController) defaultErrHandler(ctx router.Context, err error) error {
	logRichError(a.Logger, err)
	return writeError(ctx, err)
}

func (a *AuthController) debug(label string, payload any) {
	if !a.Debug {
		return
	}
	a.Logger.Debug("======= AUTH %s ======\n%s", label, print.MaybePrettyJSON(payload))
}

// RegisterRequest payload
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegisterRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrBadPayload)
	}

	a.debug("REGISTER", map[string]string{"name": payload.Name, "email": payload.Email})

	user, err := a.Sessions.Register(ctx.Context(), RegisterUserMessage{
		Name:     payload.Name,
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, map[string]any{
		"success": true,
		"user":    user.Public(),
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrBadPayload)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, ValidationError(err))
	}

	a.debug("LOGIN", map[string]string{"email": payload.Email})

	res, err := a.Sessions.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, loginFailure(err))
	}

	setRefreshCookie(ctx, a.Cookie, res.RefreshToken, res.RefreshExpiresAt)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":     true,
		"accessToken": res.AccessToken,
		"user":        res.User.Public(),
	})
}

// loginFailure keeps the wire response identical for unknown accounts,
// wrong passwords and pending verification.
func loginFailure(err error) error {
	if HasTextCode(err, TextCodeEmailNotVerified) {
		return ErrInvalidCredentials
	}
	return err
}

func (a *AuthController) RefreshToken(ctx router.Context) error {
	secret := ctx.Cookies(a.Cookie.Name)
	if secret == "" {
		return a.ErrorHandler(ctx, ErrTokenNotFound)
	}

	res, err := a.Sessions.Refresh(ctx.Context(), secret)
	if err != nil {
		if HasTextCode(err, TextCodeTokenNotFound) {
			clearRefreshCookie(ctx, a.Cookie)
		}
		return a.ErrorHandler(ctx, err)
	}

	if res.RefreshToken != "" {
		setRefreshCookie(ctx, a.Cookie, res.RefreshToken, res.RefreshExpiresAt)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":     true,
		"accessToken": res.AccessToken,
	})
}

func (a *AuthController) Logout(ctx router.Context) error {
	if err := a.Sessions.Logout(ctx.Context(), ctx.Cookies(a.Cookie.Name)); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	clearRefreshCookie(ctx, a.Cookie)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) VerifyEmail(ctx router.Context) error {
	if err := a.Sessions.VerifyEmail(ctx.Context(), ctx.Param("token")); err != nil {
		return a.ErrorHandler(ctx, linkFailure(err))
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified",
	})
}

// EmailRequest payload used by resend and forgot password
type EmailRequest struct {
	Email string `json:"email"`
}

func (r EmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) ResendVerification(ctx router.Context) error {
	payload := new(EmailRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrBadPayload)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, ValidationError(err))
	}

	if err := a.Sessions.ResendVerification(ctx.Context(), payload.Email); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

func (a *AuthController) ForgotPassword(ctx router.Context) error {
	payload := new(EmailRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrBadPayload)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, ValidationError(err))
	}

	if err := a.Sessions.RequestPasswordReset(ctx.Context(), payload.Email); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"message": "If the account exists a reset link was sent",
	})
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	Password string `json:"password"`
}

func (a *AuthController) ResetPassword(ctx router.Context) error {
	payload := new(ResetPasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrBadPayload)
	}

	if err := a.Sessions.ResetPassword(ctx.Context(), ctx.Param("token"), payload.Password); err != nil {
		return a.ErrorHandler(ctx, linkFailure(err))
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// linkFailure reports dead emailed links as bad requests, not as a missing session
func linkFailure(err error) error {
	if HasTextCode(err, TextCodeTokenNotFound) {
		return ErrInvalidLink
	}
	return err
}

func (a *AuthController) CurrentUser(ctx router.Context) error {
	caller, ok := requestCaller(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrMissingCaller)
	}

	user, err := a.Sessions.CurrentUser(ctx.Context(), caller)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"user":    user.Public(),
	})
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (a *AuthController) ChangePassword(ctx router.Context) error {
	caller, ok := requestCaller(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrMissingCaller)
	}

	payload := new(ChangePasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrBadPayload)
	}

	if err := a.Sessions.ChangePassword(ctx.Context(), caller, payload.OldPassword, payload.NewPassword); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
	})
}

// ProjectRole reports the effective role of the caller on a project, and the
// member list for callers allowed to manage members.
func (a *AuthController) ProjectRole(ctx router.Context) error {
	if a.Resolver == nil {
		return a.ErrorHandler(ctx, fmt.Errorf("resolver not configured"))
	}

	caller, ok := requestCaller(ctx, a.ContextKey)
	if !ok {
		return a.ErrorHandler(ctx, ErrMissingCaller)
	}

	projectID := ctx.Param("projectId")
	role, err := a.Resolver.Check(ctx.Context(), caller, projectID, ActionRead)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	res := map[string]any{
		"success": true,
		"role":    role,
		"actions": Actions(role),
	}

	if Authorize(role, ActionManageMembers) {
		members, err := a.Resolver.Members(ctx.Context(), caller, projectID)
		if err != nil {
			return a.ErrorHandler(ctx, err)
		}
		res["members"] = members
	}

	return ctx.JSON(router.StatusOK, res)
}
