package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bulc-license-server/internal/domain/model"
	"bulc-license-server/internal/domain/ports/repository"
	"bulc-license-server/internal/infra/metrics"
	red "bulc-license-server/internal/infra/redis"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

// planRepoCacheDecorator caches plan reads in Redis. Plans change rarely and
// are read on every plan-backed issuance and candidate listing.
type planRepoCacheDecorator struct {
	inner repository.PlanRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, cache red.RedisClient) repository.PlanRepository {
	return &planRepoCacheDecorator{
		inner: inner,
		cache: cache,
		ttl:   1 * time.Hour,
	}
}

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	key := fmt.Sprintf("plan:%s", id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("plan", "hit")
		var plan model.LicensePlan
		if json.Unmarshal([]byte(val), &plan) == nil {
			return &plan, nil
		}
	} else if err != red.Nil {
		metrics.IncCacheRequest("plan", "error")
	}

	metrics.IncCacheRequest("plan", "miss")
	plan, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if bytes, err := json.Marshal(plan); err == nil {
		_ = d.cache.Set(ctx, key, bytes, d.ttl)
	}
	return plan, nil
}

// FindAvailableByID / FindAvailableByCode filter on availability, which the
// write path can flip; they go through FindByID's cache only when safe.
func (d *planRepoCacheDecorator) FindAvailableByID(ctx context.Context, tx repository.Tx, id string) (*model.LicensePlan, error) {
	return d.inner.FindAvailableByID(ctx, tx, id)
}

func (d *planRepoCacheDecorator) FindAvailableByCode(ctx context.Context, tx repository.Tx, code string) (*model.LicensePlan, error) {
	return d.inner.FindAvailableByCode(ctx, tx, code)
}

func (d *planRepoCacheDecorator) ExistsByCode(ctx context.Context, tx repository.Tx, code string) (bool, error) {
	return d.inner.ExistsByCode(ctx, tx, code)
}

// Save invalidates the plan's entry and the list cache.
func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.LicensePlan) error {
	_ = d.cache.Del(ctx, fmt.Sprintf("plan:%s", plan.ID), "plans:all")
	return d.inner.Save(ctx, tx, plan)
}

func (d *planRepoCacheDecorator) List(ctx context.Context, tx repository.Tx, productID string, activeOnly bool) ([]*model.LicensePlan, error) {
	// Only the unfiltered listing is cached; filtered views hit the database.
	if productID != "" || activeOnly {
		return d.inner.List(ctx, tx, productID, activeOnly)
	}
	key := "plans:all"
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		metrics.IncCacheRequest("plan_list", "hit")
		var plans []*model.LicensePlan
		if json.Unmarshal([]byte(val), &plans) == nil {
			return plans, nil
		}
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.List(ctx, tx, productID, activeOnly)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		if bytes, err := json.Marshal(plans); err == nil {
			_ = d.cache.Set(ctx, key, bytes, d.ttl)
		}
	}
	return plans, nil
}
