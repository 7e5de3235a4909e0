package accounts_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	acc "github.com/panyam/accounts"
	gormstore "github.com/panyam/accounts/stores/gorm"
)

// =============================================================================
// Test environment shared by the flow and HTTP tests
// =============================================================================

// sentMail is one message captured by recordingSender
type sentMail struct {
	Kind string
	To   string
	Name string
	Link string
}

// recordingSender keeps every message instead of delivering it.
type recordingSender struct {
	mu   sync.Mutex
	mail []sentMail
	fail error
}

func (s *recordingSender) record(kind, to, name, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.mail = append(s.mail, sentMail{Kind: kind, To: to, Name: name, Link: link})
	return nil
}

func (s *recordingSender) SendVerificationEmail(_ context.Context, to, name, link string) error {
	return s.record("verification", to, name, link)
}

func (s *recordingSender) SendPasswordResetEmail(_ context.Context, to, name, link string) error {
	return s.record("reset", to, name, link)
}

func (s *recordingSender) last(t *testing.T) sentMail {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.mail, "no mail was sent")
	return s.mail[len(s.mail)-1]
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mail)
}

// linkParts splits a mailed link into its uid and token segments.
func linkParts(t *testing.T, link string) (uid, token string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	require.Len(t, parts, 3, "unexpected link %s", link)
	return parts[1], parts[2]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	DB       *gorm.DB
	Config   *acc.Config
	Stores   acc.Stores
	Mail     *recordingSender
	Clock    *clock
	Auth     *acc.LocalAuth
	Profiles *acc.ProfileService
}

func testConfig() *acc.Config {
	return &acc.Config{
		SecretKey:   "test-secret-key-0123456789",
		Scheme:      acc.SchemeBoth,
		BackendURL:  "https://api.example.com",
		AppName:     "Kanban Board",
		SenderEmail: "noreply@example.com",
		BcryptCost:  bcrypt.MinCost,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, gormstore.AutoMigrate(db))
	return db
}

func newTestEnv(t *testing.T, mutate ...func(*acc.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	db := newTestDB(t)
	stores := gormstore.NewStores(db)
	c := &clock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	mail := &recordingSender{}
	return &testEnv{
		DB:       db,
		Config:   cfg,
		Stores:   stores,
		Mail:     mail,
		Clock:    c,
		Auth:     acc.NewLocalAuth(cfg, stores, mail, acc.WithClock(c.Now)),
		Profiles: acc.NewProfileService(stores, cfg.ProfileOwnerOnly),
	}
}

// register signs up an account and returns its activation link parts.
func (e *testEnv) register(t *testing.T, username, email, password string) (uid, token string) {
	t.Helper()
	_, err := e.Auth.Register(context.Background(), acc.SignupRequest{
		Username:  username,
		Email:     email,
		Password:  password,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	mail := e.Mail.last(t)
	require.Equal(t, "verification", mail.Kind)
	return linkParts(t, mail.Link)
}

// activeAccount registers and activates an account.
func (e *testEnv) activeAccount(t *testing.T, username, email, password string) *acc.Account {
	t.Helper()
	uid, token := e.register(t, username, email, password)
	account, err := e.Auth.Activate(context.Background(), uid, token)
	require.NoError(t, err)
	return e.reload(t, account.ID)
}

func (e *testEnv) accountCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.DB.Model(&gormstore.AccountModel{}).Count(&n).Error)
	return n
}

func (e *testEnv) reload(t *testing.T, id string) *acc.Account {
	t.Helper()
	account, err := e.Stores.Accounts.GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

var errSMTPDown = errors.New("smtp down")
