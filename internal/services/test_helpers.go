package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sembalun/guard/internal/models"
)

// MockUserRepository implements UserRepository for testing. With no Func
// overrides it behaves like a small in-memory table keyed by email.
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)

	mu    sync.Mutex
	users map[string]*models.User
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			out := *u
			return &out, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[strings.ToLower(email)]; ok {
		out := *u
		return &out, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	key := strings.ToLower(user.Email)
	if _, exists := m.users[key]; exists {
		return nil, models.ErrConflict
	}
	stored := *user
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	m.users[key] = &stored
	out := stored
	return &out, nil
}

// MockRateLimitStore implements RateLimitStore with injectable failures
type MockRateLimitStore struct {
	AttemptFunc       func(ctx context.Context, key string, rule models.RateLimitRule, now time.Time) (models.RateLimitResult, error)
	ResetFunc         func(ctx context.Context, key string) error
	DeleteExpiredFunc func(ctx context.Context, now time.Time) (int, error)
}

func (m *MockRateLimitStore) Attempt(ctx context.Context, key string, rule models.RateLimitRule, now time.Time) (models.RateLimitResult, error) {
	if m.AttemptFunc != nil {
		return m.AttemptFunc(ctx, key, rule, now)
	}
	return models.AllowedResult(rule.Max, rule.Max-1, now.Add(rule.Window)), nil
}

func (m *MockRateLimitStore) Reset(ctx context.Context, key string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, key)
	}
	return nil
}

func (m *MockRateLimitStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if m.DeleteExpiredFunc != nil {
		return m.DeleteExpiredFunc(ctx, now)
	}
	return 0, nil
}

// MockAuditArchive records archived entries
type MockAuditArchive struct {
	ArchiveErr error

	mu       sync.Mutex
	Archived []models.AuditLogEntry
	Cutoffs  []time.Time
}

func (m *MockAuditArchive) Archive(_ context.Context, entry models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ArchiveErr != nil {
		return m.ArchiveErr
	}
	m.Archived = append(m.Archived, entry)
	return nil
}

func (m *MockAuditArchive) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditLogEntry, 0)
	for i := len(m.Archived) - 1; i >= 0; i-- {
		if m.Archived[i].UserID == userID {
			out = append(out, m.Archived[i])
		}
	}
	if offset >= len(out) {
		return []models.AuditLogEntry{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockAuditArchive) ListAlerts(_ context.Context, minSeverity models.Severity, limit int) ([]models.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AuditLogEntry, 0)
	for i := len(m.Archived) - 1; i >= 0 && len(out) < limit; i-- {
		if m.Archived[i].Severity >= minSeverity {
			out = append(out, m.Archived[i])
		}
	}
	return out, nil
}

func (m *MockAuditArchive) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cutoffs = append(m.Cutoffs, cutoff)
	return 0, nil
}

// MockAlertNotifier records notified entries
type MockAlertNotifier struct {
	mu       sync.Mutex
	Notified []models.AuditLogEntry
}

func (m *MockAlertNotifier) Notify(_ context.Context, entry models.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notified = append(m.Notified, entry)
	return nil
}

func (m *MockAlertNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notified)
}
