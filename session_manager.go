package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionSettings holds the lifetimes and switches for session flows
type SessionSettings struct {
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	PasswordResetTTL     time.Duration
	EmailVerificationTTL time.Duration
	RotateRefreshTokens  bool
	PublicURL            string
	MinPasswordLength    int
}

func DefaultSessionSettings() SessionSettings {
	return SessionSettings{
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      7 * 24 * time.Hour,
		PasswordResetTTL:     30 * time.Minute,
		EmailVerificationTTL: 24 * time.Hour,
		PublicURL:            "http://localhost:3000",
		MinPasswordLength:    defaultMinPasswordLength,
	}
}

// SessionSettingsFromConfig overlays non zero config values on the defaults
func SessionSettingsFromConfig(cfg Config) SessionSettings {
	s := DefaultSessionSettings()
	if cfg == nil {
		return s
	}
	if v := cfg.GetAccessTokenTTL(); v > 0 {
		s.AccessTokenTTL = v
	}
	if v := cfg.GetRefreshTokenTTL(); v > 0 {
		s.RefreshTokenTTL = v
	}
	if v := cfg.GetPasswordResetTTL(); v > 0 {
		s.PasswordResetTTL = v
	}
	if v := cfg.GetEmailVerificationTTL(); v > 0 {
		s.EmailVerificationTTL = v
	}
	if v := cfg.GetPublicURL(); v != "" {
		s.PublicURL = v
	}
	s.RotateRefreshTokens = cfg.GetRotateRefreshTokens()
	return s
}

// sessionDeps is shared by the session manager and its command handlers
type sessionDeps struct {
	repo     RepositoryManager
	tokens   *TokenService
	hasher   PasswordAuthenticator
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      Clock
	settings SessionSettings
}

func (d *sessionDeps) getLogger() Logger {
	if d.logger != nil {
		return d.logger
	}
	return defLogger{}
}

func (d *sessionDeps) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now()
	}
	if err := normalizeActivitySink(d.activity).Record(ctx, event); err != nil {
		d.getLogger().Warn("activity sink error for %s: %v", event.EventType, err)
	}
}

// send delivers a message. Failures are logged and swallowed: the issued
// token stays valid and the user can ask for a new one.
func (d *sessionDeps) send(ctx context.Context, to, subject, body string) {
	if d.mailer == nil {
		d.getLogger().Warn("no mailer configured, dropping message %q to %s", subject, to)
		return
	}
	if err := d.mailer.Send(ctx, to, subject, body); err != nil {
		d.getLogger().Error("failed to deliver %q to %s: %v", subject, to, err)
	}
}

// issueSecret creates an opaque secret, records its hash and returns the plaintext
func (d *sessionDeps) issueSecret(ctx context.Context, ledger TokenLedger, userID uuid.UUID, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	plain, err := IssueOpaqueSecret()
	if err != nil {
		return "", time.Time{}, err
	}

	expiresAt := d.now().UTC().Add(ttl)
	if err := ledger.RecordToken(ctx, userID, kind, HashOpaqueSecret(plain), expiresAt); err != nil {
		return "", time.Time{}, err
	}

	return plain, expiresAt, nil
}

func (d *sessionDeps) validatePassword(password string) error {
	min := d.settings.MinPasswordLength
	if min <= 0 {
		min = defaultMinPasswordLength
	}
	if err := validation.Validate(password, PasswordRule(min)); err != nil {
		return goerrors.New(fmt.Sprintf("password must be between %d and %d bytes", min, MaxPasswordBytes), goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"min": min, "max": MaxPasswordBytes})
	}
	return nil
}

// LoginResult is returned by a successful login
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *User
}

// RefreshResult is returned by a successful refresh. RefreshToken is only
// set when rotation is enabled.
type RefreshResult struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *User
}

// SessionManager runs the login, refresh, logout and password lifecycle flows
type SessionManager struct {
	*sessionDeps
	throttle  *LoginThrottle
	dummyOnce sync.Once
	dummyHash string
}

func NewSessionManager(repo RepositoryManager, tokens *TokenService) *SessionManager {
	return &SessionManager{
		sessionDeps: &sessionDeps{
			repo:     repo,
			tokens:   tokens,
			hasher:   NewBcryptHasher(0),
			activity: noopActivitySink{},
			logger:   defLogger{},
			now:      time.Now,
			settings: DefaultSessionSettings(),
		},
	}
}

func (m *SessionManager) WithSettings(settings SessionSettings) *SessionManager {
	m.settings = settings
	return m
}

func (m *SessionManager) WithPasswordHasher(hasher PasswordAuthenticator) *SessionManager {
	if hasher != nil {
		m.hasher = hasher
	}
	return m
}

func (m *SessionManager) WithMailer(mailer Mailer) *SessionManager {
	m.mailer = mailer
	return m
}

// WithActivitySink sets the sink used to emit session events.
func (m *SessionManager) WithActivitySink(sink ActivitySink) *SessionManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

// WithLogger overrides the logger used by the manager and its handlers.
func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *SessionManager) WithLoginThrottle(throttle *LoginThrottle) *SessionManager {
	m.throttle = throttle
	return m
}

func (m *SessionManager) WithClock(clock Clock) *SessionManager {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Login verifies credentials and opens a session. Unknown emails and wrong
// passwords both return ErrInvalidCredentials, unverified accounts return
// ErrEmailNotVerified once the password matched.
func (m *SessionManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	key := NormalizeEmail(email)

	if !m.throttle.Allow(key) {
		m.recordLoginFailure(ctx, key, "", "throttled")
		return nil, ErrTooManyLoginAttempts
	}

	user, err := m.repo.Users().GetByEmail(ctx, key)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// keep the timing of unknown emails close to wrong passwords
			_ = m.hasher.ComparePasswordAndHash(password, m.getDummyHash())
			m.recordLoginFailure(ctx, key, "", "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, asRichError(err, "failed to load user for login")
	}

	if err := m.hasher.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		if !errors.Is(err, ErrMismatchedHashAndPassword) {
			m.getLogger().Error("password compare failed for user %s: %v", user.ID, err)
		}
		m.recordLoginFailure(ctx, key, user.ID.String(), "bad_password")
		return nil, ErrInvalidCredentials
	}

	if !user.Verified {
		m.recordLoginFailure(ctx, key, user.ID.String(), "email_not_verified")
		return nil, ErrEmailNotVerified
	}

	access, err := m.tokens.IssueAccessToken(user.ID.String(), user.GlobalRole, m.settings.AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	refresh, refreshExp, err := m.issueSecret(ctx, m.repo.Tokens(), user.ID, TokenKindRefresh, m.settings.RefreshTokenTTL)
	if err != nil {
		return nil, asRichError(err, "failed to record refresh token")
	}

	m.throttle.Reset(key)

	now := m.now()
	if err := m.repo.Users().TrackSuccessfulLogin(ctx, user.ID, now); err != nil {
		m.getLogger().Warn("failed to track login for user %s: %v", user.ID, err)
	}
	user.LastLoginAt = &now

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     userActor(user.ID.String()),
		UserID:    user.ID.String(),
	})

	return &LoginResult{
		AccessToken:      access,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		User:             user,
	}, nil
}

func (m *SessionManager) recordLoginFailure(ctx context.Context, email, userID, reason string) {
	m.record(ctx, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{ID: EmailFingerprint(email), Type: ActorTypeAnonymous},
		UserID:    userID,
		Metadata:  map[string]any{"reason": reason, "email": email},
	})
}

func (m *SessionManager) getDummyHash() string {
	m.dummyOnce.Do(func() {
		h, err := m.hasher.HashPassword(uuid.NewString())
		if err != nil {
			m.getLogger().Error("failed to build dummy password hash: %v", err)
			return
		}
		m.dummyHash = h
	})
	return m.dummyHash
}

// Refresh mints a new access token from a live refresh secret. The role is
// read from the credential store, not from the previous access token.
func (m *SessionManager) Refresh(ctx context.Context, refreshPlaintext string) (*RefreshResult, error) {
	if refreshPlaintext == "" {
		return nil, ErrTokenNotFound
	}

	hash := HashOpaqueSecret(refreshPlaintext)
	result := &RefreshResult{}

	if m.settings.RotateRefreshTokens {
		err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			ledger := ledgerInTx(m.repo.Tokens(), tx)

			userID, err := ledger.TakeToken(ctx, TokenKindRefresh, hash)
			if err != nil {
				return err
			}

			user, err := m.loadSessionUser(ctx, tx, userID)
			if err != nil {
				return err
			}

			plain, exp, err := m.issueSecret(ctx, ledger, userID, TokenKindRefresh, m.settings.RefreshTokenTTL)
			if err != nil {
				return err
			}

			result.User = user
			result.RefreshToken = plain
			result.RefreshExpiresAt = exp
			return nil
		})
		if err != nil {
			return nil, asRichError(err, "failed to rotate refresh token")
		}
	} else {
		userID, err := m.repo.Tokens().ConsumeToken(ctx, TokenKindRefresh, hash)
		if err != nil {
			return nil, err
		}

		user, err := m.loadSessionUser(ctx, nil, userID)
		if err != nil {
			return nil, err
		}
		result.User = user
	}

	access, err := m.tokens.IssueAccessToken(result.User.ID.String(), result.User.GlobalRole, m.settings.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	result.AccessToken = access

	m.record(ctx, ActivityEvent{
		EventType: ActivityEventRefresh,
		Actor:     userActor(result.User.ID.String()),
		UserID:    result.User.ID.String(),
		Metadata:  map[string]any{"rotated": m.settings.RotateRefreshTokens},
	})

	return result, nil
}

// loadSessionUser treats a missing owner as a dead token
func (m *SessionManager) loadSessionUser(ctx context.Context, tx bun.IDB, userID uuid.UUID) (*User, error) {
	var (
		user *User
		err  error
	)
	if tx != nil {
		user, err = m.repo.Users().GetByUUIDTx(ctx, tx, userID)
	} else {
		user, err = m.repo.Users().GetByUUID(ctx, userID)
	}
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, asRichError(err, "failed to load session user")
	}
	return user, nil
}

// Logout revokes the refresh row of this session only. Unknown or empty
// secrets are not an error.
func (m *SessionManager) Logout(ctx context.Context, refreshPlaintext string) error {
	if refreshPlaintext == "" {
		return nil
	}

	if err := m.repo.Tokens().RevokeToken(ctx, TokenKindRefresh, HashOpaqueSecret(refreshPlaintext)); err != nil {
		return err
	}

	m.record(ctx, ActivityEvent{EventType: ActivityEventLogout})
	return nil
}

// RequestPasswordReset never reveals whether email belongs to an account
func (m *SessionManager) RequestPasswordReset(ctx context.Context, email string) error {
	return NewInitializePasswordResetHandler(m.sessionDeps).
		Execute(ctx, InitializePasswordResetMessage{Email: email})
}

// ResetPassword consumes a reset secret, sets the new password and revokes
// every refresh token of the user.
func (m *SessionManager) ResetPassword(ctx context.Context, secret, newPassword string) error {
	return NewFinalizePasswordResetHandler(m.sessionDeps).
		Execute(ctx, FinalizePasswordResetMessage{Token: secret, Password: newPassword})
}

// VerifyEmail consumes a verification secret and marks the owner verified
func (m *SessionManager) VerifyEmail(ctx context.Context, secret string) error {
	return NewVerifyEmailHandler(m.sessionDeps).
		Execute(ctx, VerifyEmailMessage{Token: secret})
}

// Register creates an unverified member and sends the verification link
func (m *SessionManager) Register(ctx context.Context, msg RegisterUserMessage) (*User, error) {
	var created *User
	msg.OnCreated = func(u *User) { created = u }

	if err := NewRegisterUserHandler(m.sessionDeps).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return created, nil
}

// ResendVerification issues a fresh verification secret
func (m *SessionManager) ResendVerification(ctx context.Context, email string) error {
	return NewAccountVerificationRequestHandler(m.sessionDeps).
		Execute(ctx, AccountVerificationRequestMessage{Email: email})
}

// ChangePassword requires the current password. Other sessions stay open.
func (m *SessionManager) ChangePassword(ctx context.Context, caller Caller, oldPassword, newPassword string) error {
	return NewChangePasswordHandler(m.sessionDeps).Execute(ctx, ChangePasswordMessage{
		UserID:      caller.UserID,
		OldPassword: oldPassword,
		NewPassword: newPassword,
	})
}

// CurrentUser loads the user behind caller
func (m *SessionManager) CurrentUser(ctx context.Context, caller Caller) (*User, error) {
	if caller.IsZero() {
		return nil, ErrMissingCaller
	}

	id, err := uuid.Parse(caller.UserID)
	if err != nil {
		return nil, ErrNotFound
	}

	user, err := m.repo.Users().GetByUUID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, asRichError(err, "failed to load current user")
	}
	return user, nil
}

// PurgeExpiredTokens removes dead ledger rows
func (m *SessionManager) PurgeExpiredTokens(ctx context.Context) (int64, error) {
	return m.repo.Tokens().PurgeExpired(ctx)
}
