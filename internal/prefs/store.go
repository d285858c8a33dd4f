// Package prefs persists per-user preferences and serves them through the
// preference cache.
package prefs

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketfeed/internal/cache"
	"marketfeed/internal/model"
	"marketfeed/pkg/exception"
)

// ErrNotFound is returned when a user has no value for a key.
var ErrNotFound = errors.New("preference not found")

// Source is the backing storage of preferences.
type Source interface {
	Get(ctx context.Context, userID, key string) (model.Preference, error)
	Put(ctx context.Context, p model.Preference) error
	Delete(ctx context.Context, userID, key string) error
}

// Store is the gorm implementation of Source.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore migrates the preference table and returns a store over db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "nil db")
	}
	if err := db.AutoMigrate(&model.Preference{}); err != nil {
		return nil, errors.Wrap(err, "migrate preference")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Get(ctx context.Context, userID, key string) (model.Preference, error) {
	var p model.Preference
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Preference{}, errors.Wrap(ErrNotFound, "get preference").With("user", userID).With("key", key)
	}
	if err != nil {
		return model.Preference{}, errors.Wrap(err, "get preference").With("user", userID).With("key", key)
	}
	return p, nil
}

// Put inserts p or overwrites the stored value.
func (s *Store) Put(ctx context.Context, p model.Preference) error {
	if p.UserID == "" || p.Key == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "empty preference key").With("user", p.UserID).With("key", p.Key)
	}
	p.UpdatedAt = s.now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return errors.Wrap(err, "put preference").With("user", p.UserID).With("key", p.Key)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, key string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND key = ?", userID, key).
		Delete(&model.Preference{}).Error
	if err != nil {
		return errors.Wrap(err, "delete preference").With("user", userID).With("key", key)
	}
	return nil
}

// Cached reads through the preference cache and invalidates it on writes.
type Cached struct {
	src   Source
	cache *cache.TieredCache[model.Preference]
	ttl   time.Duration
}

// NewCached wraps src. ttl <= 0 uses the cache default.
func NewCached(src Source, c *cache.TieredCache[model.Preference], ttl time.Duration) (*Cached, error) {
	if src == nil || c == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "new cached preferences")
	}
	return &Cached{src: src, cache: c, ttl: ttl}, nil
}

func (c *Cached) Get(ctx context.Context, userID, key string) (model.Preference, error) {
	return c.cache.GetOrSet(ctx, model.PreferenceKey(userID, key), func(ctx context.Context) (model.Preference, error) {
		return c.src.Get(ctx, userID, key)
	}, c.ttl)
}

func (c *Cached) Put(ctx context.Context, p model.Preference) error {
	if err := c.src.Put(ctx, p); err != nil {
		return err
	}
	c.cache.Delete(model.PreferenceKey(p.UserID, p.Key))
	return nil
}

func (c *Cached) Delete(ctx context.Context, userID, key string) error {
	if err := c.src.Delete(ctx, userID, key); err != nil {
		return err
	}
	c.cache.Delete(model.PreferenceKey(userID, key))
	return nil
}
