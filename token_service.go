package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
)

const (
	minSigningKeyLength   = 32
	defaultAccessTokenTTL = 15 * time.Minute
)

// TokenService issues and verifies HS256 access tokens. Verification never
// touches a store.
type TokenService struct {
	keyID      string
	signingKey []byte
	givenKeys  map[string]keyfunc.GivenKey
	keyFunc    jwt.Keyfunc
	issuer     string
	audience   jwt.ClaimStrings
	defaultTTL time.Duration
	now        Clock
	logger     Logger
}

type TokenServiceOption func(*TokenService)

// WithIssuer sets the iss claim and requires it on verification
func WithIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.issuer = issuer
	}
}

// WithAudience sets the aud claim and requires the first entry on verification
func WithAudience(aud ...string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.audience = jwt.ClaimStrings(aud)
	}
}

// WithClock overrides the time source used for iat, exp and expiry checks
func WithClock(clock Clock) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithDefaultAccessTTL is used when IssueAccessToken gets a non positive ttl
func WithDefaultAccessTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.defaultTTL = ttl
		}
	}
}

// WithVerificationKey accepts tokens signed with a retired key during rotation
func WithVerificationKey(kid string, key []byte) TokenServiceOption {
	return func(ts *TokenService) {
		ts.givenKeys[kid] = keyfunc.NewGivenCustom(key, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		})
	}
}

func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a token service signing with key under keyID.
// A misconfigured signer fails here, never per call.
func NewTokenService(keyID string, signingKey []byte, opts ...TokenServiceOption) (*TokenService, error) {
	if strings.TrimSpace(keyID) == "" {
		return nil, goerrors.New("signing key id must not be empty", goerrors.CategoryValidation)
	}

	if len(signingKey) < minSigningKeyLength {
		return nil, goerrors.New(
			fmt.Sprintf("signing key must be at least %d bytes", minSigningKeyLength),
			goerrors.CategoryValidation,
		)
	}

	ts := &TokenService{
		keyID:      keyID,
		signingKey: signingKey,
		givenKeys:  map[string]keyfunc.GivenKey{},
		defaultTTL: defaultAccessTokenTTL,
		now:        time.Now,
		logger:     defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	ts.givenKeys[keyID] = keyfunc.NewGivenCustom(signingKey, keyfunc.GivenKeyOptions{
		Algorithm: jwt.SigningMethodHS256.Alg(),
	})
	ts.keyFunc = keyfunc.NewGiven(ts.givenKeys).Keyfunc

	return ts, nil
}

// NewTokenServiceFromConfig builds a token service from Config
func NewTokenServiceFromConfig(cfg Config, opts ...TokenServiceOption) (*TokenService, error) {
	base := []TokenServiceOption{
		WithIssuer(cfg.GetIssuer()),
		WithDefaultAccessTTL(cfg.GetAccessTokenTTL()),
	}
	if aud := cfg.GetAudience(); len(aud) > 0 {
		base = append(base, WithAudience(aud...))
	}
	return NewTokenService(cfg.GetSigningKeyID(), []byte(cfg.GetSigningKey()), append(base, opts...)...)
}

// IssueAccessToken encodes {uid, role, iat, exp} and signs it. The output
// only depends on the input and the clock.
func (ts *TokenService) IssueAccessToken(userID string, globalRole Role, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = ts.defaultTTL
	}

	now := ts.now().UTC().Truncate(time.Second)
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   userID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:      userID,
		UserRole: globalRole,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ts.keyID

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, nil
}

// VerifyAccessToken is the decision form of Validate: claims and true for a
// valid token, nil and false for anything else.
func (ts *TokenService) VerifyAccessToken(tokenString string) (*JWTClaims, bool) {
	claims, err := ts.Validate(tokenString)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// Validate parses and validates a token string. Expired tokens return
// ErrTokenExpired, every other failure ErrTokenMalformed.
func (ts *TokenService) Validate(tokenString string) (*JWTClaims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, ts.keyFunc, parserOptions...)
	if err != nil {
		if goerrors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		ts.logger.Debug("access token rejected: %v", err)
		return nil, ErrTokenMalformed
	}

	if !token.Valid || claims.UserID() == "" || !claims.UserRole.IsValid() {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}
