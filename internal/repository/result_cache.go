package repository

import (
	"context"
	"errors"
	"time"

	"FinGuard/internal/domain/models"
	domrepo "FinGuard/internal/domain/repository"
	"FinGuard/pkg/cache"
)

const resultKeyPrefix = "analysis"

// ResultCache stores analysis results in a cache.Service under
// "analysis:<id>".
type ResultCache struct {
	c cache.Service
}

var _ domrepo.ResultCache = (*ResultCache)(nil)

func NewResultCache(c cache.Service) *ResultCache {
	return &ResultCache{c: c}
}

func (rc *ResultCache) Put(ctx context.Context, r *models.AnalysisResult, ttl time.Duration) error {
	return rc.c.Set(ctx, cache.Key(resultKeyPrefix, r.ID), r, ttl)
}

func (rc *ResultCache) Fetch(ctx context.Context, id string) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	if err := rc.c.Get(ctx, cache.Key(resultKeyPrefix, id), &r); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domrepo.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}
