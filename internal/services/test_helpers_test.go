package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/airwaves/stationcms/internal/models"
	pkgauth "github.com/airwaves/stationcms/pkg/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHasher() *pkgauth.Hasher {
	return pkgauth.NewHasher(pkgauth.MinBcryptCost)
}

// testClock is a manually advanced clock shared by the services under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryRateLimitRepo is an in-memory RateLimitRepository
type memoryRateLimitRepo struct {
	mu      sync.Mutex
	records map[string]*models.PasswordResetRateLimit
	err     error
}

func newMemoryRateLimitRepo() *memoryRateLimitRepo {
	return &memoryRateLimitRepo{records: make(map[string]*models.PasswordResetRateLimit)}
}

func (m *memoryRateLimitRepo) Get(ctx context.Context, identifier string) (*models.PasswordResetRateLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	record, ok := m.records[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *memoryRateLimitRepo) Create(ctx context.Context, identifier string, windowStart time.Time) (*models.PasswordResetRateLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if _, ok := m.records[identifier]; !ok {
		m.records[identifier] = &models.PasswordResetRateLimit{
			Identifier:  identifier,
			WindowStart: windowStart,
			UpdatedAt:   windowStart,
		}
	}
	copied := *m.records[identifier]
	return &copied, nil
}

func (m *memoryRateLimitRepo) Increment(ctx context.Context, identifier string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	record, ok := m.records[identifier]
	if !ok {
		return models.ErrNotFound
	}
	record.AttemptCount++
	record.UpdatedAt = now
	return nil
}

func (m *memoryRateLimitRepo) Reset(ctx context.Context, identifier string, windowStart time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[identifier] = &models.PasswordResetRateLimit{
		Identifier:   identifier,
		AttemptCount: 1,
		WindowStart:  windowStart,
		UpdatedAt:    windowStart,
	}
	return nil
}

func (m *memoryRateLimitRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, record := range m.records {
		if record.UpdatedAt.Before(before) {
			delete(m.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryRateLimitRepo) count(identifier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.records[identifier]; ok {
		return record.AttemptCount
	}
	return 0
}

// memoryResetTokenRepo is an in-memory ResetTokenRepository
type memoryResetTokenRepo struct {
	mu        sync.Mutex
	tokens    []*models.PasswordResetToken
	nextID    int
	createErr error
	users     *memoryUserRepo // receives passwords stored by Redeem
}

func (m *memoryResetTokenRepo) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	token := &models.PasswordResetToken{
		ID:        fmt.Sprintf("token-%d", m.nextID),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-time.Hour),
	}
	m.tokens = append(m.tokens, token)
	copied := *token
	return &copied, nil
}

func (m *memoryResetTokenRepo) FindActive(ctx context.Context, now time.Time) ([]*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*models.PasswordResetToken
	for _, token := range m.tokens {
		if token.IsValid(now) {
			copied := *token
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (m *memoryResetTokenRepo) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.ID == id && token.UsedAt == nil {
			token.UsedAt = &usedAt
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *memoryResetTokenRepo) Redeem(ctx context.Context, tokenID, userID, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var token *models.PasswordResetToken
	for _, t := range m.tokens {
		if t.ID == tokenID && t.UsedAt == nil {
			token = t
			break
		}
	}
	if token == nil {
		return models.ErrInvalidToken
	}
	if m.users == nil {
		return models.ErrNotFound
	}
	if err := m.users.UpdatePassword(ctx, userID, passwordHash, changedAt); err != nil {
		return err
	}
	token.UsedAt = &changedAt
	return nil
}

func (m *memoryResetTokenRepo) InvalidateForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, token := range m.tokens {
		if token.UserID == userID && token.UsedAt == nil {
			token.UsedAt = &now
			count++
		}
	}
	return count, nil
}

func (m *memoryResetTokenRepo) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tokens[:0]
	var deleted int64
	for _, token := range m.tokens {
		if token.IsExpired(now) {
			deleted++
			continue
		}
		kept = append(kept, token)
	}
	m.tokens = kept
	return deleted, nil
}

func (m *memoryResetTokenRepo) active(userID string, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, token := range m.tokens {
		if token.UserID == userID && token.IsValid(now) {
			n++
		}
	}
	return n
}

// memoryUserRepo is an in-memory UserRepository keyed by id
type memoryUserRepo struct {
	mu        sync.Mutex
	users     map[string]*models.User
	lookupErr error
}

func newMemoryUserRepo(users ...*models.User) *memoryUserRepo {
	repo := &memoryUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *memoryUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryUserRepo) GetByEmailWithRoles(ctx context.Context, email string, roles []string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) && slices.Contains(roles, u.Role) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memoryUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordChangedAt = &changedAt
	return nil
}

func (m *memoryUserRepo) hash(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].PasswordHash
}

// recordingMailer captures reset emails
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentResetEmail
	err  error
}

type sentResetEmail struct {
	Email     string
	Token     string
	ExpiresAt time.Time
}

func (m *recordingMailer) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentResetEmail{Email: email, Token: token, ExpiresAt: expiresAt})
	return nil
}

func (m *recordingMailer) last() sentResetEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// recordingAuditor captures audit entries
type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAuditor) Log(ctx context.Context, entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *recordingAuditor) last() AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

// MockAuditLogRepository implements AuditLogRepository for testing
type MockAuditLogRepository struct {
	CreateFunc func(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error)
	created    []*models.AuditLog
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) (*models.AuditLog, error) {
	m.created = append(m.created, log)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return log, nil
}

// MockEmailSender implements EmailSender for testing
type MockEmailSender struct {
	SendFunc func(ctx context.Context, msg EmailMessage) (string, error)
	sent     []EmailMessage
}

func (m *MockEmailSender) Send(ctx context.Context, msg EmailMessage) (string, error) {
	m.sent = append(m.sent, msg)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return "msg-1", nil
}

// passwordFixture wires a PasswordService over in-memory stores
type passwordFixture struct {
	clock   *testClock
	users   *memoryUserRepo
	ledger  *memoryRateLimitRepo
	tokens  *memoryResetTokenRepo
	mailer  *recordingMailer
	auditor *recordingAuditor
	limiter *RateLimitService
	store   *ResetTokenService
	hasher  *pkgauth.Hasher
	service *PasswordService
}

const (
	fixtureUserID   = "6f1c1f5e-8e43-4a77-9d5a-0f4f6c0b2a11"
	fixtureEmail    = "producer@kxyz.org"
	fixturePassword = "OnAir#2024x"
)

func newPasswordFixture() *passwordFixture {
	clock := newTestClock()
	hasher := testHasher()
	logger := testLogger()

	hash, err := hasher.Hash(fixturePassword)
	if err != nil {
		panic(err)
	}

	f := &passwordFixture{
		clock: clock,
		users: newMemoryUserRepo(&models.User{
			ID:           fixtureUserID,
			Email:        fixtureEmail,
			PasswordHash: hash,
			Name:         "Morning Producer",
			Role:         models.RoleEditor,
		}),
		ledger:  newMemoryRateLimitRepo(),
		tokens:  &memoryResetTokenRepo{},
		mailer:  &recordingMailer{},
		auditor: &recordingAuditor{},
		hasher:  hasher,
	}

	f.tokens.users = f.users

	f.limiter = NewRateLimitService(f.ledger, DefaultRateLimitConfig(), logger)
	f.limiter.now = clock.Now
	f.store = NewResetTokenService(f.tokens, hasher, DefaultResetTokenTTL, logger)
	f.store.now = clock.Now

	f.service = NewPasswordService(f.users, f.limiter, f.store, f.mailer, hasher, f.auditor,
		PasswordServiceConfig{ResetRoles: []string{models.RoleAdmin, models.RoleEditor}}, logger)
	f.service.now = clock.Now

	return f
}
