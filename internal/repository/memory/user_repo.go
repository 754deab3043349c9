package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamchat-backend/internal/domain"
)

// UserRepository keeps users in memory
type UserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

// NewUserRepository creates an empty in-memory user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[uuid.UUID]*domain.User)}
}

// Add inserts or replaces a user
func (r *UserRepository) Add(user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[user.UserID] = copyUser(user)
}

// GetByID returns a copy of the user
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return copyUser(user), nil
}

// UpdatePresence persists status and last_seen_at
func (r *UserRepository) UpdatePresence(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, lastSeenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	seen := lastSeenAt
	user.Status = status
	user.LastSeenAt = &seen
	return nil
}

// ListStale returns users not offline whose last activity is before the cutoff
func (r *UserRepository) ListStale(ctx context.Context, before time.Time) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []*domain.User
	for _, user := range r.users {
		if isStale(user, before) {
			users = append(users, copyUser(user))
		}
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].LastSeenAt.Before(*users[j].LastSeenAt)
	})
	return users, nil
}

// MarkOfflineIfStale forces a user offline only if they are still stale
func (r *UserRepository) MarkOfflineIfStale(ctx context.Context, userID uuid.UUID, before time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok || !isStale(user, before) {
		return false, nil
	}
	user.Status = domain.PresenceOffline
	return true, nil
}

// ListByOrganization returns every user of an organization
func (r *UserRepository) ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []*domain.User
	for _, user := range r.users {
		if user.OrganizationID == organizationID {
			users = append(users, copyUser(user))
		}
	}
	sortByUsername(users)
	return users, nil
}

func isStale(user *domain.User, before time.Time) bool {
	return user.Status != domain.PresenceOffline && user.LastSeenAt != nil && user.LastSeenAt.Before(before)
}

func copyUser(user *domain.User) *domain.User {
	cp := *user
	if user.LastSeenAt != nil {
		seen := *user.LastSeenAt
		cp.LastSeenAt = &seen
	}
	return &cp
}

func sortByUsername(users []*domain.User) {
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
}
