package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"lightchat/backend/internal/config"
	"lightchat/backend/internal/logger"
	"lightchat/backend/internal/metrics"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidRole = errors.New("message role must be user or assistant")
)

const keyChats = "chats"

func keyChat(id string) string     { return "chat:" + id }
func keyMessages(id string) string { return "messages:" + id }

// Store persists chats, messages, the admin account and sessions. Reads of
// chats and messages go through a short-lived cache that every mutation
// invalidates after its write commits.
type Store struct {
	db    *gorm.DB
	cache Cache
	group singleflight.Group
	now   func() time.Time
	log   *logger.Logger

	stampMu   sync.Mutex
	lastStamp time.Time

	genMu sync.Mutex
	gens  map[string]uint64
}

type Option func(*Store)

func WithCache(cache Cache) Option {
	return func(s *Store) { s.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.log = log }
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, log: logger.Nop(), gens: map[string]uint64{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(DefaultCacheTTL, s.now)
	}
	s.log = s.log.With("component", "store")
	return s
}

// Open builds a Store from cfg: database per DatabaseURL, Redis cache when
// RedisURL is set and an in-process cache otherwise.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (*Store, error) {
	database, err := OpenDB(cfg.DatabaseURL, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, err
	}

	var cache Cache = NewMemoryCache(cfg.CacheTTL, nil)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := NewRedisCache(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			closeDB(database)
			return nil, err
		}
		cache = redisCache
	}

	return New(database, WithCache(cache), WithLogger(log)), nil
}

func (s *Store) Close() error {
	if closer, ok := s.cache.(io.Closer); ok {
		_ = closer.Close()
	}
	return closeDB(s.db)
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func closeDB(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	return cached(ctx, s, keyChats, func() ([]Chat, error) {
		chats := []Chat{}
		if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&chats).Error; err != nil {
			return nil, fmt.Errorf("list chats: %w", err)
		}
		return chats, nil
	})
}

func (s *Store) GetChat(ctx context.Context, id string) (Chat, error) {
	return cached(ctx, s, keyChat(id), func() (Chat, error) {
		var chat Chat
		err := s.db.WithContext(ctx).Where("id = ?", id).Take(&chat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Chat{}, ErrNotFound
		}
		if err != nil {
			return Chat{}, fmt.Errorf("get chat: %w", err)
		}
		return chat, nil
	})
}

func (s *Store) CreateChat(ctx context.Context, name, modelID string) (Chat, error) {
	now := s.stamp()
	chat := Chat{
		ID:        uuid.NewString(),
		Name:      name,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&chat).Error; err != nil {
		return Chat{}, fmt.Errorf("create chat: %w", err)
	}
	s.invalidate(ctx, keyChats)
	return chat, nil
}

func (s *Store) UpdateChat(ctx context.Context, id string, update ChatUpdate) (Chat, error) {
	changes := map[string]any{"updated_at": s.stamp()}
	if update.Name != nil {
		changes["name"] = *update.Name
	}
	if update.ModelID != nil {
		changes["model_id"] = *update.ModelID
	}

	res := s.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", id).Updates(changes)
	if res.Error != nil {
		return Chat{}, fmt.Errorf("update chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Chat{}, ErrNotFound
	}
	s.invalidate(ctx, keyChats, keyChat(id))
	return s.GetChat(ctx, id)
}

// DeleteChat removes the chat and all of its messages.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&Chat{})
		if res.Error != nil {
			return fmt.Errorf("delete chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, keyChats, keyChat(id), keyMessages(id))
	return nil
}

// ListMessages returns a chat's messages oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	return cached(ctx, s, keyMessages(chatID), func() ([]Message, error) {
		messages := []Message{}
		err := s.db.WithContext(ctx).
			Where("chat_id = ?", chatID).
			Order("created_at ASC").
			Find(&messages).Error
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		return messages, nil
	})
}

func (s *Store) CreateMessage(ctx context.Context, chatID, content, role string, extra MessageExtra) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, ErrInvalidRole
	}

	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: s.stamp(),
	}
	if extra.ThinkingProcess != "" {
		thinking := extra.ThinkingProcess
		msg.ThinkingProcess = &thinking
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return fmt.Errorf("check chat: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	s.invalidate(ctx, keyMessages(chatID))
	return msg, nil
}

// stamp returns a UTC timestamp at microsecond precision that is strictly
// later than any previous stamp from this Store.
func (s *Store) stamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *Store) invalidate(ctx context.Context, keys ...string) {
	s.genMu.Lock()
	for _, key := range keys {
		s.gens[key]++
	}
	s.genMu.Unlock()

	for _, key := range keys {
		s.group.Forget(key)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("cache invalidation failed", "keys", keys, "error", err.Error())
	}
}

func (s *Store) invalidateEntry(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		s.log.Warn("cache invalidation failed", "keys", []string{key}, "error", err.Error())
	}
}

// generation counts the invalidations of key seen so far.
func (s *Store) generation(key string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[key]
}

// cached serves key from the cache, collapsing concurrent misses into one
// load. Cache failures fall through to load. A load that overlaps an
// invalidation of key still answers its callers but leaves nothing cached.
func cached[T any](ctx context.Context, s *Store, key string, load func() (T, error)) (T, error) {
	raw, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		s.log.Warn("cache read failed", "key", key, "error", err.Error())
	case ok:
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return out, nil
		}
		metrics.CacheLookups.WithLabelValues("error").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	value, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.generation(key)
		loaded, err := load()
		if err != nil {
			return loaded, err
		}
		if s.generation(key) != gen {
			return loaded, nil
		}
		if encoded, err := json.Marshal(loaded); err == nil {
			if err := s.cache.Set(ctx, key, encoded); err != nil {
				s.log.Warn("cache write failed", "key", key, "error", err.Error())
			}
			// An invalidation racing the Set may have run its Delete first.
			if s.generation(key) != gen {
				s.invalidateEntry(ctx, key)
			}
		}
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}
