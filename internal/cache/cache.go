// Package cache keeps a redis copy of catalog responses so POS terminals
// polling the product list do not hit the database on every refresh.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const productKeyPrefix = "cache:products:"

// ProductCache is safe to use as a nil pointer; every method then does nothing.
type ProductCache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *ProductCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProductCache{client: client, ttl: ttl}
}

// Connect dials redis and returns a cache, or nil when addr is empty.
func Connect(ctx context.Context, addr, password string, db int, ttl time.Duration) (*ProductCache, error) {
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, ttl), nil
}

func (c *ProductCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

type bodyCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *bodyCapture) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware serves cached GET responses and stores successful ones.
func (c *ProductCache) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil || ctx.Request.Method != http.MethodGet {
			ctx.Next()
			return
		}

		key := productKey(ctx.Request.URL.Path, ctx.Request.URL.RawQuery)
		reqCtx := ctx.Request.Context()

		cached, err := c.client.Get(reqCtx, key).Bytes()
		if err == nil && len(cached) > 0 {
			logger.Debug(reqCtx).Str("cache_key", key).Msg("Cache hit")
			ctx.Header("X-Cache", "HIT")
			ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
			ctx.Abort()
			return
		}
		if err != nil && err != redis.Nil {
			logger.Warn(reqCtx).Err(err).Str("cache_key", key).Msg("Cache read failed")
		}

		ctx.Header("X-Cache", "MISS")
		capture := &bodyCapture{ResponseWriter: ctx.Writer, body: &bytes.Buffer{}}
		ctx.Writer = capture

		ctx.Next()

		if ctx.Writer.Status() != http.StatusOK || capture.body.Len() == 0 {
			return
		}
		if err := c.client.Set(reqCtx, key, capture.body.Bytes(), c.ttl).Err(); err != nil {
			logger.Warn(reqCtx).Err(err).Str("cache_key", key).Msg("Failed to cache response")
		}
	}
}

// InvalidateProducts drops every cached catalog response.
func (c *ProductCache) InvalidateProducts(ctx context.Context) error {
	if c == nil {
		return nil
	}

	iter := c.client.Scan(ctx, 0, productKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return err
		}
		logger.Debug(ctx).Int("count", len(keys)).Msg("Catalog cache invalidated")
	}
	return nil
}

// Invalidate is InvalidateProducts for callers that only log the failure.
func (c *ProductCache) Invalidate(ctx context.Context) {
	if err := c.InvalidateProducts(ctx); err != nil {
		logger.Warn(ctx).Err(err).Msg("Catalog cache invalidation failed")
	}
}

func productKey(path, query string) string {
	hash := sha256.Sum256([]byte(path + "?" + query))
	return productKeyPrefix + hex.EncodeToString(hash[:])
}
