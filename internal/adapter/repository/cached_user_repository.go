package repository

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"dormarket/internal/domain/entity"
	"dormarket/internal/domain/repository"
)

const userCacheSize = 256

// cachedUserRepository keeps recently resolved profiles in an LRU so the
// conversation list does not refetch the same participants on every
// refresh. Profiles change rarely; staleness is bounded by eviction.
type cachedUserRepository struct {
	inner repository.UserRepository
	cache *lru.Cache
}

func NewCachedUserRepository(inner repository.UserRepository) repository.UserRepository {
	cache, _ := lru.New(userCacheSize)
	return &cachedUserRepository{
		inner: inner,
		cache: cache,
	}
}

func (r *cachedUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	if cached, ok := r.cache.Get(id); ok {
		return cached.(*entity.User), nil
	}

	user, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Add(id, user)
	return user, nil
}
