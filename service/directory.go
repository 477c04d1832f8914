package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/Itish41/IAOMS/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrUnknownRecipient is returned when a recipient id is not in the directory.
var ErrUnknownRecipient = errors.New("unknown recipient")

// Directory resolves recipient ids to people.
type Directory interface {
	ResolveRecipient(ctx context.Context, id string) (*models.User, error)
}

// StoreDirectory reads recipients straight from the user store.
type StoreDirectory struct {
	users UserStore
}

func NewStoreDirectory(users UserStore) *StoreDirectory {
	return &StoreDirectory{users: users}
}

func (d *StoreDirectory) ResolveRecipient(ctx context.Context, id string) (*models.User, error) {
	user, err := d.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, id)
		}
		return nil, fmt.Errorf("failed to load recipient %s: %w", id, err)
	}
	return user, nil
}

// CachedDirectory keeps resolved recipients in Redis for ttl.
type CachedDirectory struct {
	next Directory
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

func NewCachedDirectory(next Directory, rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, rdb: rdb, ttl: ttl, log: log}
}

func recipientCacheKey(id string) string {
	return "iaoms:recipient:" + id
}

// ResolveRecipient serves from cache and falls through to the wrapped
// directory on a miss or a cache error.
func (d *CachedDirectory) ResolveRecipient(ctx context.Context, id string) (*models.User, error) {
	key := recipientCacheKey(id)
	cached, err := d.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var user models.User
		if err := json.Unmarshal(cached, &user); err == nil {
			return &user, nil
		}
		d.log.Warn("dropping malformed cached recipient", zap.String("recipient_id", id))
	case !errors.Is(err, redis.Nil):
		d.log.Warn("recipient cache read failed", zap.String("recipient_id", id), zap.Error(err))
	}

	user, err := d.next.ResolveRecipient(ctx, id)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(user); err == nil {
		if err := d.rdb.Set(ctx, key, bytes, d.ttl).Err(); err != nil {
			d.log.Warn("recipient cache write failed", zap.String("recipient_id", id), zap.Error(err))
		}
	}
	return user, nil
}

// Invalidate drops a cached recipient after the directory row changed.
func (d *CachedDirectory) Invalidate(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, recipientCacheKey(id)).Err()
}

// Profiles keeps the recipient directory in line with the profiles carried
// by authenticated users.
type Profiles struct {
	users UserStore
	cache *CachedDirectory

	mu     sync.Mutex
	synced map[string]models.User
}

// NewProfiles returns a Profiles writing to users. cache may be nil.
func NewProfiles(users UserStore, cache *CachedDirectory) *Profiles {
	return &Profiles{users: users, cache: cache, synced: make(map[string]models.User)}
}

// Sync upserts user when it differs from the copy last written.
func (p *Profiles) Sync(ctx context.Context, user models.User) error {
	if user.ID == "" {
		return nil
	}
	p.mu.Lock()
	last, ok := p.synced[user.ID]
	p.mu.Unlock()
	if ok && last == user {
		return nil
	}

	row := user
	if err := p.users.Save(ctx, &row); err != nil {
		return &PersistenceError{Op: "save recipient", Err: err}
	}
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, user.ID); err != nil {
			p.cache.log.Warn("recipient cache invalidation failed", zap.String("recipient_id", user.ID), zap.Error(err))
		}
	}

	p.mu.Lock()
	p.synced[user.ID] = user
	p.mu.Unlock()
	return nil
}

// ByRole lists the recipients holding role.
func (p *Profiles) ByRole(ctx context.Context, role string) ([]models.User, error) {
	if role == "" {
		return nil, &ValidationError{Field: "role", Message: "is required"}
	}
	users, err := p.users.FindByRole(ctx, role)
	if err != nil {
		return nil, &PersistenceError{Op: "list recipients", Err: err}
	}
	return users, nil
}
