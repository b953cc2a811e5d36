package auth_test

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/goliatone/go-project-auth"
)

const (
	testKeyID      = "test-key"
	testSigningKey = "0123456789abcdef0123456789abcdef"
	testPassword   = "correct horse battery"
)

// newTestDB returns a migrated in-memory sqlite database. A single
// connection keeps every query on the same memory database.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, auth.Migrate(context.Background(), db))
	return db
}

func newTestTokenService(t *testing.T, opts ...auth.TokenServiceOption) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(testKeyID, []byte(testSigningKey), opts...)
	require.NoError(t, err)
	return ts
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// captureMailer records every message
type captureMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return m.err
}

func (m *captureMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// lastSecret returns the secret at the end of the last link sent to "to"
func (m *captureMailer) lastSecret(t *testing.T, to string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].To != to {
			continue
		}
		body := strings.TrimSpace(m.sent[i].Body)
		idx := strings.LastIndex(body, "/")
		require.GreaterOrEqual(t, idx, 0, "no link in message body")
		return body[idx+1:]
	}

	t.Fatalf("no message sent to %s", to)
	return ""
}

// captureSink records activity events
type captureSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *captureSink) Record(_ context.Context, e auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *captureSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// manualClock is a settable time source
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sessionFixture struct {
	db       *bun.DB
	repo     auth.RepositoryManager
	tokens   *auth.TokenService
	sessions *auth.SessionManager
	mailer   *captureMailer
	sink     *captureSink
}

func newSessionFixture(t *testing.T, settings ...func(*auth.SessionSettings)) *sessionFixture {
	t.Helper()

	db := newTestDB(t)
	repo := auth.NewRepositoryManager(db)
	require.NoError(t, repo.Validate())

	tokens := newTestTokenService(t)
	mailer := &captureMailer{}
	sink := &captureSink{}

	s := auth.DefaultSessionSettings()
	for _, fn := range settings {
		fn(&s)
	}

	sessions := auth.NewSessionManager(repo, tokens).
		WithSettings(s).
		WithPasswordHasher(auth.NewBcryptHasher(bcrypt.MinCost)).
		WithMailer(mailer).
		WithActivitySink(sink)

	return &sessionFixture{
		db:       db,
		repo:     repo,
		tokens:   tokens,
		sessions: sessions,
		mailer:   mailer,
		sink:     sink,
	}
}

// registerUser registers an account and, when verified is set, confirms it
func (f *sessionFixture) registerUser(t *testing.T, email string, verified bool) *auth.User {
	t.Helper()
	ctx := context.Background()

	user, err := f.sessions.Register(ctx, auth.RegisterUserMessage{
		Name:     "Test User",
		Email:    email,
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NotNil(t, user)

	if verified {
		require.NoError(t, f.sessions.VerifyEmail(ctx, f.mailer.lastSecret(t, user.Email)))
	}
	return user
}

func (f *sessionFixture) setGlobalRole(t *testing.T, userID uuid.UUID, role auth.Role) {
	t.Helper()
	_, err := f.db.NewUpdate().
		Model((*auth.User)(nil)).
		Set("global_role = ?", role).
		Where("id = ?", userID.String()).
		Exec(context.Background())
	require.NoError(t, err)
}

func (f *sessionFixture) addMember(t *testing.T, projectID string, userID uuid.UUID, role auth.Role) {
	t.Helper()
	_, err := f.db.NewInsert().
		Model(&auth.Membership{ProjectID: projectID, UserID: userID.String(), Role: role}).
		Exec(context.Background())
	require.NoError(t, err)
}

func (f *sessionFixture) countTokens(t *testing.T, userID uuid.UUID, kind auth.TokenKind) int {
	t.Helper()
	n, err := f.db.NewSelect().
		Model((*auth.IssuedToken)(nil)).
		Where("user_id = ?", userID.String()).
		Where("kind = ?", kind).
		Count(context.Background())
	require.NoError(t, err)
	return n
}

// categoryOf returns the go-errors category of err, or "" for plain errors
func categoryOf(err error) goerrors.Category {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category
	}
	return ""
}
