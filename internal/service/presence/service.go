package presence

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"teamchat-backend/internal/domain"
	"teamchat-backend/pkg/cache"
	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/errors"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
)

// UserRepository persists the durable status and last_seen_at of users
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdatePresence(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, lastSeenAt time.Time) error
	ListStale(ctx context.Context, before time.Time) ([]*domain.User, error)
	MarkOfflineIfStale(ctx context.Context, userID uuid.UUID, before time.Time) (bool, error)
	ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]*domain.User, error)
}

// ChannelMembers lists the users of a channel
type ChannelMembers interface {
	ListMembers(ctx context.Context, channelID uuid.UUID) ([]*domain.User, error)
}

// EphemeralStore is a TTL-bounded key/value and hash store
type EphemeralStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
}

// AccessPolicy decides whether a user may act in a channel
type AccessPolicy interface {
	CanAccessChannel(ctx context.Context, userID, channelID uuid.UUID) (bool, error)
}

// EventPublisher delivers domain events downstream
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Config holds presence TTLs and thresholds
type Config struct {
	HeartbeatTTL     time.Duration
	RecordTTL        time.Duration
	TypingTTL        time.Duration
	TypingStaleAfter time.Duration
	Thresholds       domain.PresenceThresholds
	OnlineUsersCache time.Duration
}

// DefaultConfig returns the standard presence timings
func DefaultConfig() Config {
	return Config{
		HeartbeatTTL:     60 * time.Second,
		RecordTTL:        time.Hour,
		TypingTTL:        10 * time.Second,
		TypingStaleAfter: 5 * time.Second,
		Thresholds:       domain.DefaultPresenceThresholds,
		OnlineUsersCache: 60 * time.Second,
	}
}

// Service tracks user presence and typing indicators
type Service struct {
	users     UserRepository
	channels  ChannelMembers
	store     EphemeralStore
	policy    AccessPolicy
	publisher EventPublisher
	cache     *cache.MemoryCache
	cfg       Config
	now       func() time.Time
}

// NewService creates a new presence service
func NewService(
	users UserRepository,
	channels ChannelMembers,
	store EphemeralStore,
	policy AccessPolicy,
	publisher EventPublisher,
	cfg Config,
) *Service {
	return &Service{
		users:     users,
		channels:  channels,
		store:     store,
		policy:    policy,
		publisher: publisher,
		cache:     cache.NewMemoryCache(cfg.OnlineUsersCache, 10000),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordHeartbeat refreshes the liveness marker. A user whose persisted status
// is neither online nor dnd is brought back online.
func (s *Service) RecordHeartbeat(ctx context.Context, userID uuid.UUID) error {
	now := s.now()
	if err := s.store.Set(ctx, heartbeatKey(userID), strconv.FormatInt(now.Unix(), 10), s.cfg.HeartbeatTTL); err != nil {
		return errors.CacheError(fmt.Errorf("failed to refresh heartbeat: %w", err))
	}
	metrics.PresenceHeartbeatTotal.Inc()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status == domain.PresenceOnline || user.Status == domain.PresenceDND {
		return nil
	}

	return s.updatePresence(ctx, user, domain.PresenceOnline, now, "heartbeat")
}

// SetStatus persists an explicit status change
func (s *Service) SetStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus) error {
	if !status.Valid() {
		return errors.ValidationError("status must be one of online, away, dnd, offline")
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	return s.updatePresence(ctx, user, status, s.now(), "manual")
}

// RecordActivity bumps last_seen_at without changing the persisted status
func (s *Service) RecordActivity(ctx context.Context, userID uuid.UUID) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	return s.updatePresence(ctx, user, user.Status, s.now(), "activity")
}

// SetAway moves an online user to away. Any other status is left alone.
func (s *Service) SetAway(ctx context.Context, userID uuid.UUID) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.Status != domain.PresenceOnline {
		return nil
	}

	return s.updatePresence(ctx, user, domain.PresenceAway, s.now(), "idle")
}

// GetUserStatus returns the derived status of one user
func (s *Service) GetUserStatus(ctx context.Context, userID uuid.UUID) (domain.PresenceStatus, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.DerivedStatus(user), nil
}

// GetUserPresence returns the derived status of one user along with whether
// a client currently holds a liveness marker
func (s *Service) GetUserPresence(ctx context.Context, userID uuid.UUID) (*domain.UserPresence, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	connected, err := s.store.Exists(ctx, heartbeatKey(userID))
	if err != nil {
		return nil, errors.CacheError(fmt.Errorf("failed to read heartbeat: %w", err))
	}

	p := s.toPresence(user)
	p.Connected = connected
	return &p, nil
}

// DerivedStatus computes the displayed status without writing anything
func (s *Service) DerivedStatus(user *domain.User) domain.PresenceStatus {
	return domain.DeriveStatus(user.Status, user.LastSeenAt, s.now(), s.cfg.Thresholds)
}

// SweepStale forces offline every user idle past the away threshold who has no
// liveness marker. A live heartbeat wins over staleness. It returns how many
// users were changed; per-user failures are joined and do not stop the sweep.
func (s *Service) SweepStale(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.cfg.Thresholds.Away)

	stale, err := s.users.ListStale(ctx, cutoff)
	if err != nil {
		return 0, errors.DatabaseError(fmt.Errorf("failed to list stale users: %w", err))
	}

	swept := 0
	var errs []error
	for _, user := range stale {
		alive, err := s.store.Exists(ctx, heartbeatKey(user.UserID))
		if err != nil {
			errs = append(errs, errors.CacheError(fmt.Errorf("failed to read heartbeat of %s: %w", user.UserID, err)))
			continue
		}
		if alive {
			metrics.PresenceSweepSkippedTotal.Inc()
			continue
		}

		changed, err := s.users.MarkOfflineIfStale(ctx, user.UserID, cutoff)
		if err != nil {
			errs = append(errs, errors.DatabaseError(fmt.Errorf("failed to mark %s offline: %w", user.UserID, err)))
			continue
		}
		if !changed {
			continue
		}

		if err := s.store.Delete(ctx, presenceKey(user.UserID), heartbeatKey(user.UserID)); err != nil {
			errs = append(errs, errors.CacheError(fmt.Errorf("failed to clear presence of %s: %w", user.UserID, err)))
		}

		swept++
		metrics.PresenceSweptTotal.Inc()
		metrics.PresenceStatusUpdatedTotal.WithLabelValues(string(domain.PresenceOffline), "sweep").Inc()

		lastSeen := now
		if user.LastSeenAt != nil {
			lastSeen = *user.LastSeenAt
		}
		s.publish(ctx, domain.NewPresenceUpdated(user, domain.PresenceOffline, lastSeen, now))
	}

	if swept > 0 {
		logger.Info("Stale presence swept", zap.Int("swept", swept), zap.Int("candidates", len(stale)))
	}

	return swept, stderrors.Join(errs...)
}

// StartSweeper runs SweepStale every interval until ctx is cancelled
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepStale(ctx); err != nil {
					logger.Warn("Presence sweep incomplete", zap.Error(err))
				}
			}
		}
	}()
}

// CheckChannelAccess returns ACCESS_DENIED unless the user may act in the channel
func (s *Service) CheckChannelAccess(ctx context.Context, userID, channelID uuid.UUID) error {
	ok, err := s.policy.CanAccessChannel(ctx, userID, channelID)
	if err != nil {
		return errors.DatabaseError(fmt.Errorf("failed to check channel access: %w", err))
	}
	if !ok {
		return errors.AccessDeniedError("You do not have access to this channel")
	}
	return nil
}

// SetTyping records that the user is typing in the channel and refreshes the map TTL
func (s *Service) SetTyping(ctx context.Context, channelID, userID uuid.UUID) error {
	if err := s.CheckChannelAccess(ctx, userID, channelID); err != nil {
		return err
	}

	now := s.now()
	fields := map[string]string{userID.String(): strconv.FormatInt(now.UnixMilli(), 10)}
	if err := s.store.HSet(ctx, typingKey(channelID), fields, s.cfg.TypingTTL); err != nil {
		return errors.CacheError(fmt.Errorf("failed to set typing: %w", err))
	}

	s.publish(ctx, domain.NewUserTyping(channelID, userID, now))
	return nil
}

// StopTyping removes the user's typing entry
func (s *Service) StopTyping(ctx context.Context, channelID, userID uuid.UUID) error {
	if err := s.store.HDel(ctx, typingKey(channelID), userID.String()); err != nil {
		return errors.CacheError(fmt.Errorf("failed to clear typing: %w", err))
	}

	s.publish(ctx, domain.NewUserStoppedTyping(channelID, userID, s.now()))
	return nil
}

// GetTypingUsers returns users who typed within the staleness window, oldest
// first. Stale or unreadable entries are deleted as part of the read.
func (s *Service) GetTypingUsers(ctx context.Context, channelID uuid.UUID) ([]domain.TypingUser, error) {
	key := typingKey(channelID)
	entries, err := s.store.HGetAll(ctx, key)
	if err != nil {
		return nil, errors.CacheError(fmt.Errorf("failed to read typing: %w", err))
	}

	now := s.now()
	typing := make([]domain.TypingUser, 0, len(entries))
	var stale []string
	for field, raw := range entries {
		userID, idErr := uuid.Parse(field)
		ms, tsErr := strconv.ParseInt(raw, 10, 64)
		if idErr != nil || tsErr != nil {
			stale = append(stale, field)
			continue
		}

		startedAt := time.UnixMilli(ms).UTC()
		if now.Sub(startedAt) >= s.cfg.TypingStaleAfter {
			stale = append(stale, field)
			continue
		}
		typing = append(typing, domain.TypingUser{UserID: userID, StartedAt: startedAt})
	}

	if len(stale) > 0 {
		if err := s.store.HDel(ctx, key, stale...); err != nil {
			// The entries are already filtered out; they will expire with the map
			logger.Warn("Failed to remove stale typing entries",
				zap.String("channel_id", channelID.String()),
				zap.Error(err))
		} else {
			metrics.TypingStaleRemovedTotal.Add(float64(len(stale)))
		}
	}

	sort.Slice(typing, func(i, j int) bool {
		if typing[i].StartedAt.Equal(typing[j].StartedAt) {
			return typing[i].UserID.String() < typing[j].UserID.String()
		}
		return typing[i].StartedAt.Before(typing[j].StartedAt)
	})

	return typing, nil
}

// GetChannelOnlineUsers lists channel members seen within the online threshold
// whose persisted status is online or away. Results are cached briefly.
func (s *Service) GetChannelOnlineUsers(ctx context.Context, channelID uuid.UUID) ([]domain.UserPresence, error) {
	key := constants.ChannelOnlineKeyPrefix + channelID.String()
	if cached, ok := s.cache.Get(key); ok {
		if users, ok := cached.([]domain.UserPresence); ok {
			metrics.PresenceCacheLookupsTotal.WithLabelValues("hit").Inc()
			return copyPresence(users), nil
		}
	}
	metrics.PresenceCacheLookupsTotal.WithLabelValues("miss").Inc()

	members, err := s.channels.ListMembers(ctx, channelID)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to list channel members: %w", err))
	}

	cutoff := s.now().Add(-s.cfg.Thresholds.Online)
	online := lo.FilterMap(members, func(u *domain.User, _ int) (domain.UserPresence, bool) {
		if u.Status != domain.PresenceOnline && u.Status != domain.PresenceAway {
			return domain.UserPresence{}, false
		}
		if u.LastSeenAt == nil || !u.LastSeenAt.After(cutoff) {
			return domain.UserPresence{}, false
		}
		return s.toPresence(u), true
	})

	s.cache.Set(key, online, s.cfg.OnlineUsersCache)
	return copyPresence(online), nil
}

// copyPresence keeps callers from mutating a cached slice
func copyPresence(users []domain.UserPresence) []domain.UserPresence {
	return lo.Map(users, func(u domain.UserPresence, _ int) domain.UserPresence {
		if u.LastSeenAt != nil {
			seen := *u.LastSeenAt
			u.LastSeenAt = &seen
		}
		return u
	})
}

// GetOrganizationPresence returns the derived presence of every user in the
// viewer's organization, keyed by user ID
func (s *Service) GetOrganizationPresence(ctx context.Context, viewerID uuid.UUID) (map[uuid.UUID]domain.UserPresence, error) {
	viewer, err := s.loadUser(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	users, err := s.users.ListByOrganization(ctx, viewer.OrganizationID)
	if err != nil {
		return nil, errors.DatabaseError(fmt.Errorf("failed to list organization users: %w", err))
	}

	return lo.SliceToMap(users, func(u *domain.User) (uuid.UUID, domain.UserPresence) {
		return u.UserID, s.toPresence(u)
	}), nil
}

func (s *Service) updatePresence(ctx context.Context, user *domain.User, status domain.PresenceStatus, at time.Time, source string) error {
	if err := s.users.UpdatePresence(ctx, user.UserID, status, at); err != nil {
		if stderrors.Is(err, domain.ErrUserNotFound) {
			return errors.UserNotFoundError()
		}
		return errors.DatabaseError(fmt.Errorf("failed to update presence: %w", err))
	}
	metrics.PresenceStatusUpdatedTotal.WithLabelValues(string(status), source).Inc()

	if status == domain.PresenceOffline {
		if err := s.store.Delete(ctx, presenceKey(user.UserID), heartbeatKey(user.UserID)); err != nil {
			return errors.CacheError(fmt.Errorf("failed to clear presence: %w", err))
		}
	} else {
		record := map[string]string{
			"status":          string(status),
			"last_seen_at":    strconv.FormatInt(at.Unix(), 10),
			"organization_id": user.OrganizationID.String(),
		}
		if err := s.store.HSet(ctx, presenceKey(user.UserID), record, s.cfg.RecordTTL); err != nil {
			return errors.CacheError(fmt.Errorf("failed to refresh presence record: %w", err))
		}
	}

	logger.Debug("Presence updated",
		zap.String("user_id", user.UserID.String()),
		zap.String("status", string(status)),
		zap.String("source", source))

	s.publish(ctx, domain.NewPresenceUpdated(user, status, at, at))
	return nil
}

func (s *Service) loadUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, domain.ErrUserNotFound) {
			return nil, errors.UserNotFoundError()
		}
		return nil, errors.DatabaseError(fmt.Errorf("failed to get user: %w", err))
	}
	return user, nil
}

func (s *Service) toPresence(u *domain.User) domain.UserPresence {
	return domain.UserPresence{
		UserID:      u.UserID,
		DisplayName: u.DisplayName,
		Status:      s.DerivedStatus(u),
		LastSeenAt:  u.LastSeenAt,
	}
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		metrics.EventPublishFailedTotal.WithLabelValues(string(event.Type())).Inc()
		logger.Error("Failed to publish presence event",
			zap.String("type", string(event.Type())),
			zap.Error(err))
	}
}

func heartbeatKey(userID uuid.UUID) string {
	return constants.HeartbeatKeyPrefix + userID.String()
}

func presenceKey(userID uuid.UUID) string {
	return constants.PresenceKeyPrefix + userID.String()
}

func typingKey(channelID uuid.UUID) string {
	return constants.TypingKeyPrefix + channelID.String()
}
