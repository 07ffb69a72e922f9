package predict

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Cache stores prediction results by image digest.
type Cache interface {
	Get(ctx context.Context, key string) (*Result, bool, error)
	Set(ctx context.Context, key string, r *Result) error
}

// RedisCache keeps results in Redis as JSON under prefix:key.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }

func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool, error) {
	bs, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r Result
	if err := json.Unmarshal(bs, &r); err != nil {
		return nil, false, err
	}
	return &r, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, r *Result) error {
	bs, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), bs, c.ttl).Err()
}

// MemoryCache is the in-process fallback when Redis is not configured.
type MemoryCache struct {
	c *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{c: gocache.New(ttl, 2*ttl)}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*Result, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	r := *v.(*Result)
	return &r, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, r *Result) error {
	c := *r
	m.c.SetDefault(key, &c)
	return nil
}

// Cached serves repeated predictions for byte-identical images from a
// cache. A hit whose annotated image has disappeared is treated as a miss.
type Cached struct {
	next  Predictor
	cache Cache
	fs    afero.Fs
	log   zerolog.Logger
	onHit func()
}

func NewCached(next Predictor, cache Cache, fsys afero.Fs, log zerolog.Logger) *Cached {
	return &Cached{next: next, cache: cache, fs: fsys, log: log.With().Str("component", "predict_cache").Logger()}
}

// OnHit registers a callback run for every cache hit.
func (c *Cached) OnHit(fn func()) *Cached {
	c.onHit = fn
	return c
}

func (c *Cached) Predict(ctx context.Context, imagePath string) (*Result, error) {
	key, err := c.digest(imagePath)
	if err != nil {
		c.log.Warn().Err(err).Str("image", imagePath).Msg("cannot hash image; bypassing cache")
		return c.next.Predict(ctx, imagePath)
	}
	if r, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn().Err(err).Msg("prediction cache get failed")
	} else if ok && c.usable(r) {
		if c.onHit != nil {
			c.onHit()
		}
		return r, nil
	}

	r, err := c.next.Predict(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, r); err != nil {
		c.log.Warn().Err(err).Msg("prediction cache set failed")
	}
	return r, nil
}

func (c *Cached) usable(r *Result) bool {
	if r.OutputImage == "" {
		return true
	}
	ok, err := afero.Exists(c.fs, r.OutputImage)
	return err == nil && ok
}

func (c *Cached) digest(imagePath string) (string, error) {
	f, err := c.fs.Open(imagePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
