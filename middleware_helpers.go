package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-project-auth/middleware/jwtware"
	"github.com/goliatone/go-router"
)

// ValidationListener aliases the jwtware listener so consumers can use auth helpers directly.
type ValidationListener = jwtware.ValidationListener

// GateOption customizes the request gate
type GateOption func(*jwtware.Config)

// WithGateContextKey sets the locals key the caller is stored under
func WithGateContextKey(key string) GateOption {
	return func(cfg *jwtware.Config) {
		if key != "" {
			cfg.ContextKey = key
		}
	}
}

// WithGateErrorHandler replaces the default 401 JSON response
func WithGateErrorHandler(handler router.ErrorHandler) GateOption {
	return func(cfg *jwtware.Config) {
		if handler != nil {
			cfg.ErrorHandler = handler
		}
	}
}

// WithGateFilter skips the gate for requests where filter returns true
func WithGateFilter(filter func(router.Context) bool) GateOption {
	return func(cfg *jwtware.Config) {
		cfg.Filter = filter
	}
}

// WithGateValidationListeners runs listeners after a token was accepted
func WithGateValidationListeners(listeners ...ValidationListener) GateOption {
	return func(cfg *jwtware.Config) {
		RegisterValidationListeners(cfg, listeners...)
	}
}

// NewRequestGate returns middleware that reads the bearer token, verifies it
// with tokens and attaches the Caller to the request. It never reads the
// token ledger: revoked refresh tokens do not affect live access tokens.
func NewRequestGate(tokens *TokenService, opts ...GateOption) router.MiddlewareFunc {
	return jwtware.New(NewGateConfig(tokens, opts...))
}

// NewGateConfig builds the jwtware configuration used by NewRequestGate
func NewGateConfig(tokens *TokenService, opts ...GateOption) jwtware.Config {
	cfg := jwtware.Config{
		ContextKey:      DefaultContextKey,
		TokenValidator:  GateValidator(tokens),
		ErrorHandler:    gateErrorHandler,
		LocalsValue:     callerFromAuthClaims,
		ContextEnricher: ContextEnricherAdapter,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return cfg
}

// GateValidator adapts the token service to the jwtware validator contract
func GateValidator(tokens *TokenService) jwtware.TokenValidator {
	return jwtware.ValidatorFunc(func(tokenString string) (jwtware.AuthClaims, error) {
		claims, err := tokens.Validate(tokenString)
		if err != nil {
			return nil, err
		}
		return claims, nil
	})
}

// ContextEnricherAdapter stores the caller in the standard context for
// handlers that only see a context.Context.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	caller, ok := callerFromAuthClaims(claims).(Caller)
	if !ok || caller.IsZero() {
		return c
	}
	return WithCaller(c, caller)
}

// RegisterValidationListeners appends listeners to a jwtware.Config in a safe, reusable way.
func RegisterValidationListeners(cfg *jwtware.Config, listeners ...ValidationListener) {
	if cfg == nil || len(listeners) == 0 {
		return
	}
	cfg.ValidationListeners = append(cfg.ValidationListeners, listeners...)
}

func callerFromAuthClaims(claims jwtware.AuthClaims) any {
	if jc, ok := claims.(*JWTClaims); ok {
		return jc.Caller()
	}
	if claims == nil {
		return Caller{}
	}
	return Caller{UserID: claims.UserID(), GlobalRole: Role(claims.Role())}
}

func gateErrorHandler(ctx router.Context, err error) error {
	message := "Invalid or expired token"
	if goerrors.Is(err, ErrTokenExpired) {
		message = "Token expired"
	}
	return ctx.JSON(router.StatusUnauthorized, map[string]any{
		"success": false,
		"message": message,
	})
}

// RequireAction authorizes action on the project named by the route param.
// It must run after the request gate and takes the same gate options, so a
// custom context key is read from the same place. Non members get 404,
// members with an insufficient role get 403, store failures 500.
func RequireAction(resolver *Resolver, param string, action Action, opts ...GateOption) router.MiddlewareFunc {
	cfg := jwtware.Config{ContextKey: DefaultContextKey}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	key := cfg.ContextKey

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			caller, ok := requestCaller(ctx, key)
			if !ok {
				return writeError(ctx, ErrMissingCaller)
			}

			if _, err := resolver.Check(ctx.Context(), caller, ctx.Param(param), action); err != nil {
				return writeError(ctx, err)
			}

			if hf != nil {
				return hf(ctx)
			}
			return ctx.Next()
		}
	}
}
