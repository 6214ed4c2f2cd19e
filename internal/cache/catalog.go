// Package cache keeps read-mostly catalog data in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"digistore/internal/model"
	"digistore/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss is returned when a key is not cached.
var ErrCacheMiss = errors.New("cache miss")

// missing marks a product known not to exist so repeated lookups skip the database.
const missing = "-"

// catalogCache decorates a CatalogRepository with a Redis read-through cache.
// Redis failures degrade to direct repository reads.
type catalogCache struct {
	next    repository.CatalogRepository
	client  *redis.Client
	baseTTL time.Duration
	sfg     singleflight.Group
	logger  zerolog.Logger
}

// NewCatalogCache wraps next with a Redis cache whose entries live about ttl.
func NewCatalogCache(next repository.CatalogRepository, client *redis.Client, ttl time.Duration, logger zerolog.Logger) repository.CatalogRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &catalogCache{
		next:    next,
		client:  client,
		baseTTL: ttl,
		logger:  logger.With().Str("component", "catalog-cache").Logger(),
	}
}

func (c *catalogCache) GetByID(ctx context.Context, id string) (*model.Product, error) {
	product, err := c.get(ctx, id)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("product_id", id).Msg("cache get error")
	}

	v, err, _ := c.sfg.Do(id, func() (any, error) {
		p, err := c.next.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		c.set(ctx, id, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Product), nil
}

func (c *catalogCache) GetByIDs(ctx context.Context, ids []string) ([]model.Product, error) {
	products := make([]model.Product, 0, len(ids))
	var misses []string

	for _, id := range ids {
		p, err := c.get(ctx, id)
		switch {
		case err == nil:
			if p != nil {
				products = append(products, *p)
			}
		case errors.Is(err, ErrCacheMiss):
			misses = append(misses, id)
		default:
			c.logger.Warn().Err(err).Str("product_id", id).Msg("cache get error")
			misses = append(misses, id)
		}
	}

	if len(misses) == 0 {
		return products, nil
	}

	loaded, err := c.next.GetByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(loaded))
	for i := range loaded {
		found[loaded[i].ID] = true
		c.set(ctx, loaded[i].ID, &loaded[i])
	}
	for _, id := range misses {
		if !found[id] {
			c.set(ctx, id, nil)
		}
	}

	return append(products, loaded...), nil
}

// List is not cached; pages shift whenever a product is activated or retired.
func (c *catalogCache) List(ctx context.Context, limit, offset int) ([]model.Product, error) {
	return c.next.List(ctx, limit, offset)
}

// get returns (nil, nil) for a cached negative entry.
func (c *catalogCache) get(ctx context.Context, id string) (*model.Product, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	if string(data) == missing {
		return nil, nil
	}

	var entry cachedProduct
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal product failed: %w", err)
	}
	return entry.product(), nil
}

func (c *catalogCache) set(ctx context.Context, id string, p *model.Product) {
	value := missing
	if p != nil {
		data, err := json.Marshal(newCachedProduct(p))
		if err != nil {
			c.logger.Warn().Err(err).Str("product_id", id).Msg("marshal product failed")
			return
		}
		value = string(data)
	}

	jitter := time.Duration(rand.Int63n(int64(c.baseTTL)/5 + 1))
	if err := c.client.Set(ctx, cacheKey(id), value, c.baseTTL+jitter).Err(); err != nil {
		c.logger.Warn().Err(err).Str("product_id", id).Msg("cache set error")
	}
}

// Invalidate drops cached entries for the given products.
func Invalidate(ctx context.Context, client *redis.Client, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cacheKey(id))
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// cachedProduct keeps the asset references that the API representation hides.
type cachedProduct struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	FlatPrice      *decimal.Decimal `json:"flatPrice,omitempty"`
	AssetReference string           `json:"assetReference"`
	IsActive       bool             `json:"isActive"`
	Variants       []cachedVariant  `json:"variants,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

type cachedVariant struct {
	Tag            model.VariantTag `json:"tag"`
	Price          decimal.Decimal  `json:"price"`
	AssetReference string           `json:"assetReference"`
	FileName       string           `json:"fileName,omitempty"`
}

func newCachedProduct(p *model.Product) cachedProduct {
	entry := cachedProduct{
		ID:             p.ID,
		Title:          p.Title,
		FlatPrice:      p.FlatPrice,
		AssetReference: p.AssetReference,
		IsActive:       p.IsActive,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	for _, v := range p.Variants {
		entry.Variants = append(entry.Variants, cachedVariant(v))
	}
	return entry
}

func (c cachedProduct) product() *model.Product {
	p := &model.Product{
		ID:             c.ID,
		Title:          c.Title,
		FlatPrice:      c.FlatPrice,
		AssetReference: c.AssetReference,
		IsActive:       c.IsActive,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	for _, v := range c.Variants {
		p.Variants = append(p.Variants, model.ProductVariant(v))
	}
	return p
}

func cacheKey(id string) string {
	return fmt.Sprintf("catalog:product:%s", id)
}
