package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-project-auth"
)

func TestSessionManager_LoginIssuesVerifiableAccessToken(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "alice@example.com", true)

	res, err := f.sessions.Login(context.Background(), "  Alice@Example.com ", testPassword)
	require.NoError(t, err)

	claims, ok := f.tokens.VerifyAccessToken(res.AccessToken)
	require.True(t, ok)
	assert.Equal(t, user.ID.String(), claims.UserID())
	assert.Equal(t, string(auth.RoleMember), claims.Role())

	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, res.RefreshExpiresAt.After(claims.Expires()))
	assert.NotNil(t, res.User.LastLoginAt)
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.TokenKindRefresh))
	assert.Contains(t, f.sink.types(), auth.ActivityEventLoginSuccess)
}

func TestSessionManager_LoginFailures(t *testing.T) {
	f := newSessionFixture(t)
	f.registerUser(t, "verified@example.com", true)
	f.registerUser(t, "pending@example.com", false)
	ctx := context.Background()

	_, err := f.sessions.Login(ctx, "verified@example.com", "wrong password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.sessions.Login(ctx, "nobody@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.sessions.Login(ctx, "pending@example.com", testPassword)
	assert.ErrorIs(t, err, auth.ErrEmailNotVerified)

	// a wrong password never reveals the verification state
	_, err = f.sessions.Login(ctx, "pending@example.com", "wrong password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	failures := 0
	for _, e := range f.sink.types() {
		if e == auth.ActivityEventLoginFailure {
			failures++
		}
	}
	assert.Equal(t, 4, failures)
}

func TestSessionManager_LoginFailureActorIsPseudonymous(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.sessions.Login(ctx, " Nobody@Example.com ", testPassword)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	require.Len(t, f.sink.events, 1)

	e := f.sink.events[0]
	assert.Equal(t, auth.ActorTypeAnonymous, e.Actor.Type)
	assert.Equal(t, auth.EmailFingerprint("nobody@example.com"), e.Actor.ID)
	assert.NotContains(t, e.Actor.ID, "@")
	assert.Equal(t, "nobody@example.com", e.Metadata["email"])
}

func TestSessionManager_RefreshReadsRoleFromStore(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "bob@example.com", true)
	ctx := context.Background()

	login, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	f.setGlobalRole(t, user.ID, auth.RoleAdmin)

	res, err := f.sessions.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.Empty(t, res.RefreshToken, "no rotation by default")

	claims, err := f.tokens.Validate(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, string(auth.RoleAdmin), claims.Role())

	// the same refresh secret keeps working
	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
}

func TestSessionManager_RefreshUnknownSecret(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.sessions.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	_, err = f.sessions.Refresh(context.Background(), "never-issued")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)
}

func TestSessionManager_RefreshRotation(t *testing.T) {
	f := newSessionFixture(t, func(s *auth.SessionSettings) {
		s.RotateRefreshTokens = true
	})
	user := f.registerUser(t, "rotate@example.com", true)
	ctx := context.Background()

	login, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	res, err := f.sessions.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, res.RefreshToken)
	assert.NotEqual(t, login.RefreshToken, res.RefreshToken)

	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	_, err = f.sessions.Refresh(ctx, res.RefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.TokenKindRefresh))
}

func TestSessionManager_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newSessionFixture(t, func(s *auth.SessionSettings) {
		s.RotateRefreshTokens = true
	})
	user := f.registerUser(t, "fork@example.com", true)
	ctx := context.Background()

	login, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rotated  []string
		notFound int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.sessions.Refresh(ctx, login.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rotated = append(rotated, res.RefreshToken)
			case errors.Is(err, auth.ErrTokenNotFound):
				notFound++
			}
		}()
	}
	wg.Wait()

	require.Len(t, rotated, 1)
	assert.Equal(t, 3, notFound)
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.TokenKindRefresh))

	_, err = f.sessions.Refresh(ctx, rotated[0])
	assert.NoError(t, err)
}

func TestSessionManager_LogoutRevokesOnlyItsSession(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "carol@example.com", true)
	ctx := context.Background()

	laptop, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)
	phone, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.sessions.Logout(ctx, laptop.RefreshToken))
	require.NoError(t, f.sessions.Logout(ctx, laptop.RefreshToken), "logout is idempotent")
	require.NoError(t, f.sessions.Logout(ctx, ""))

	_, err = f.sessions.Refresh(ctx, laptop.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound)

	_, err = f.sessions.Refresh(ctx, phone.RefreshToken)
	assert.NoError(t, err)

	// access tokens live until they expire
	_, ok := f.tokens.VerifyAccessToken(laptop.AccessToken)
	assert.True(t, ok)
}

func TestSessionManager_PasswordReset(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "dave@example.com", true)
	ctx := context.Background()

	login, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	require.NoError(t, f.sessions.RequestPasswordReset(ctx, user.Email))
	secret := f.mailer.lastSecret(t, user.Email)
	assert.Equal(t, "Reset your password", f.mailer.sent[len(f.mailer.sent)-1].Subject)

	require.NoError(t, f.sessions.ResetPassword(ctx, secret, "brand new password"))

	err = f.sessions.ResetPassword(ctx, secret, "another new password")
	assert.ErrorIs(t, err, auth.ErrTokenNotFound, "reset secret is single use")

	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrTokenNotFound, "reset revokes every session")

	_, err = f.sessions.Login(ctx, user.Email, testPassword)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = f.sessions.Login(ctx, user.Email, "brand new password")
	assert.NoError(t, err)

	assert.Contains(t, f.sink.types(), auth.ActivityEventPasswordResetSuccess)
}

func TestSessionManager_PasswordResetReplacesOlderLinks(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "erin@example.com", true)
	ctx := context.Background()

	require.NoError(t, f.sessions.RequestPasswordReset(ctx, user.Email))
	first := f.mailer.lastSecret(t, user.Email)
	require.NoError(t, f.sessions.RequestPasswordReset(ctx, user.Email))
	second := f.mailer.lastSecret(t, user.Email)

	assert.ErrorIs(t, f.sessions.ResetPassword(ctx, first, "brand new password"), auth.ErrTokenNotFound)
	assert.NoError(t, f.sessions.ResetPassword(ctx, second, "brand new password"))
}

func TestSessionManager_PasswordResetRejectsShortPassword(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "frank@example.com", true)
	ctx := context.Background()

	require.NoError(t, f.sessions.RequestPasswordReset(ctx, user.Email))
	secret := f.mailer.lastSecret(t, user.Email)

	err := f.sessions.ResetPassword(ctx, secret, "short")
	require.Error(t, err)
	assert.Equal(t, 400, auth.HTTPStatus(err))

	// validation runs before the secret is consumed
	assert.NoError(t, f.sessions.ResetPassword(ctx, secret, "long enough now"))
}

func TestSessionManager_PasswordLimitIsSharedByAllFlows(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "utf8@example.com", true)
	ctx := context.Background()

	// 40 runes, 80 bytes
	long := strings.Repeat("é", 40)

	_, err := f.sessions.Register(ctx, auth.RegisterUserMessage{Name: "U", Email: "new@example.com", Password: long})
	require.Error(t, err)
	assert.Equal(t, 400, auth.HTTPStatus(err))

	err = f.sessions.ChangePassword(ctx, auth.Caller{UserID: user.ID.String(), GlobalRole: user.GlobalRole}, testPassword, long)
	require.Error(t, err)
	assert.Equal(t, 400, auth.HTTPStatus(err))

	require.NoError(t, f.sessions.RequestPasswordReset(ctx, user.Email))
	err = f.sessions.ResetPassword(ctx, f.mailer.lastSecret(t, user.Email), long)
	require.Error(t, err)
	assert.Equal(t, 400, auth.HTTPStatus(err))

	fits := strings.Repeat("é", 36)
	require.NoError(t, f.sessions.ResetPassword(ctx, f.mailer.lastSecret(t, user.Email), fits))
	_, err = f.sessions.Login(ctx, user.Email, fits)
	assert.NoError(t, err)
}

func TestSessionManager_PasswordResetUnknownEmail(t *testing.T) {
	f := newSessionFixture(t)

	require.NoError(t, f.sessions.RequestPasswordReset(context.Background(), "ghost@example.com"))
	require.NoError(t, f.sessions.RequestPasswordReset(context.Background(), ""))
	assert.Equal(t, 0, f.mailer.count())
}

func TestSessionManager_MailerFailureIsSwallowed(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "grace@example.com", true)

	f.mailer.err = errors.New("smtp down")
	assert.NoError(t, f.sessions.RequestPasswordReset(context.Background(), user.Email))

	// the token was recorded, the link still works
	f.mailer.err = nil
	secret := f.mailer.lastSecret(t, user.Email)
	assert.NoError(t, f.sessions.ResetPassword(context.Background(), secret, "brand new password"))
}

func TestSessionManager_RegisterAndVerify(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	user, err := f.sessions.Register(ctx, auth.RegisterUserMessage{
		Name:     "Heidi",
		Email:    "Heidi@Example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "heidi@example.com", user.Email)
	assert.Equal(t, auth.RoleMember, user.GlobalRole)
	assert.False(t, user.Verified)
	assert.Equal(t, 1, f.countTokens(t, user.ID, auth.TokenKindVerifyEmail))

	_, err = f.sessions.Register(ctx, auth.RegisterUserMessage{
		Name:     "Heidi again",
		Email:    "heidi@example.com",
		Password: testPassword,
	})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)

	first := f.mailer.lastSecret(t, user.Email)
	require.NoError(t, f.sessions.ResendVerification(ctx, user.Email))
	second := f.mailer.lastSecret(t, user.Email)
	assert.NotEqual(t, first, second)

	assert.ErrorIs(t, f.sessions.VerifyEmail(ctx, first), auth.ErrTokenNotFound, "resend replaces older links")
	require.NoError(t, f.sessions.VerifyEmail(ctx, second))
	assert.ErrorIs(t, f.sessions.VerifyEmail(ctx, second), auth.ErrTokenNotFound)

	assert.ErrorIs(t, f.sessions.ResendVerification(ctx, user.Email), auth.ErrAlreadyVerified)
	assert.NoError(t, f.sessions.ResendVerification(ctx, "ghost@example.com"))

	_, err = f.sessions.Login(ctx, user.Email, testPassword)
	assert.NoError(t, err)

	assert.Subset(t, f.sink.types(), []auth.ActivityEventType{
		auth.ActivityEventRegistered,
		auth.ActivityEventVerificationSent,
		auth.ActivityEventEmailVerified,
	})
}

func TestSessionManager_VerifyEmailOwner(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	orphan, err := auth.IssueOpaqueSecret()
	require.NoError(t, err)
	require.NoError(t, f.repo.Tokens().RecordToken(ctx, uuid.New(), auth.TokenKindVerifyEmail, auth.HashOpaqueSecret(orphan), expires))
	assert.ErrorIs(t, f.sessions.VerifyEmail(ctx, orphan), auth.ErrTokenNotFound)

	user := f.registerUser(t, "already@example.com", true)
	stale, err := auth.IssueOpaqueSecret()
	require.NoError(t, err)
	require.NoError(t, f.repo.Tokens().RecordToken(ctx, user.ID, auth.TokenKindVerifyEmail, auth.HashOpaqueSecret(stale), expires))
	assert.NoError(t, f.sessions.VerifyEmail(ctx, stale), "verifying a verified user is a no-op")
}

func TestSessionManager_RegisterValidation(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.sessions.Register(context.Background(), auth.RegisterUserMessage{
		Name:     "",
		Email:    "not-an-email",
		Password: "short",
	})
	require.Error(t, err)
	assert.Equal(t, 400, auth.HTTPStatus(err))

	res := auth.NewErrorResponse(err)
	assert.Contains(t, res.Details, "email")
	assert.Contains(t, res.Details, "password")
	assert.Equal(t, 0, f.mailer.count())
}

func TestSessionManager_ChangePassword(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "ivan@example.com", true)
	ctx := context.Background()

	login, err := f.sessions.Login(ctx, user.Email, testPassword)
	require.NoError(t, err)

	err = f.sessions.ChangePassword(ctx, user.Caller(), "wrong password", "brand new password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	require.NoError(t, f.sessions.ChangePassword(ctx, user.Caller(), testPassword, "brand new password"))

	_, err = f.sessions.Login(ctx, user.Email, "brand new password")
	assert.NoError(t, err)

	_, err = f.sessions.Refresh(ctx, login.RefreshToken)
	assert.NoError(t, err, "other sessions stay open")

	err = f.sessions.ChangePassword(ctx, auth.Caller{}, testPassword, "brand new password")
	assert.ErrorIs(t, err, auth.ErrMissingCaller)
}

func TestSessionManager_CurrentUser(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "judy@example.com", true)
	ctx := context.Background()

	got, err := f.sessions.CurrentUser(ctx, user.Caller())
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.True(t, got.Verified)

	_, err = f.sessions.CurrentUser(ctx, auth.Caller{})
	assert.ErrorIs(t, err, auth.ErrMissingCaller)

	_, err = f.sessions.CurrentUser(ctx, auth.Caller{UserID: "not-a-uuid", GlobalRole: auth.RoleMember})
	assert.ErrorIs(t, err, auth.ErrNotFound)
}

func TestSessionManager_LoginThrottle(t *testing.T) {
	f := newSessionFixture(t)
	user := f.registerUser(t, "mallory@example.com", true)
	f.sessions.WithLoginThrottle(auth.NewLoginThrottle(0.001, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.sessions.Login(ctx, user.Email, "wrong password")
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	_, err := f.sessions.Login(ctx, user.Email, testPassword)
	assert.ErrorIs(t, err, auth.ErrTooManyLoginAttempts)
	assert.Equal(t, 429, auth.HTTPStatus(err))

	// other accounts are not affected
	other := f.registerUser(t, "trent@example.com", true)
	_, err = f.sessions.Login(ctx, other.Email, testPassword)
	assert.NoError(t, err)
}

func TestSessionManager_PurgeExpiredTokens(t *testing.T) {
	f := newSessionFixture(t)
	f.registerUser(t, "olivia@example.com", true)

	n, err := f.sessions.PurgeExpiredTokens(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}
