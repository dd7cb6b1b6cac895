package llm

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chefrag/chefrag/types"
)

// ErrCacheMiss indicates cache miss.
var ErrCacheMiss = errors.New("cache miss")

// CacheEntry 缓存的一次生成结果.
type CacheEntry struct {
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CacheConfig 配置回答缓存.
type CacheConfig struct {
	LocalMaxSize int           `json:"local_max_size"`
	LocalTTL     time.Duration `json:"local_ttl"`
	RedisTTL     time.Duration `json:"redis_ttl"`
	EnableLocal  bool          `json:"enable_local"`
	EnableRedis  bool          `json:"enable_redis"`
}

// DefaultCacheConfig returns sensible defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		LocalMaxSize: 256,
		LocalTTL:     5 * time.Minute,
		RedisTTL:     time.Hour,
		EnableLocal:  true,
		EnableRedis:  false,
	}
}

// AnswerCache 本地 LRU + 可选 Redis 两级回答缓存.
type AnswerCache struct {
	local  *lruCache
	redis  *redis.Client
	config CacheConfig
	logger *zap.Logger
}

// NewAnswerCache 创建回答缓存. rdb 可为 nil, 此时只启用本地层.
func NewAnswerCache(rdb *redis.Client, config CacheConfig, logger *zap.Logger) *AnswerCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	var local *lruCache
	if config.EnableLocal {
		local = newLRUCache(config.LocalMaxSize, config.LocalTTL)
	}

	return &AnswerCache{
		local:  local,
		redis:  rdb,
		config: config,
		logger: logger.With(zap.String("component", "answer_cache")),
	}
}

// Get retrieves from cache.
func (c *AnswerCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	if c.local != nil {
		if entry, ok := c.local.get(key); ok {
			return entry, nil
		}
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
		if err == nil {
			var entry CacheEntry
			if err := json.Unmarshal(data, &entry); err == nil {
				if c.local != nil {
					c.local.set(key, &entry)
				}
				return &entry, nil
			}
		}
	}

	return nil, ErrCacheMiss
}

// Set stores in cache.
func (c *AnswerCache) Set(ctx context.Context, key string, answer string) error {
	entry := &CacheEntry{
		Answer:    answer,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(c.config.RedisTTL),
	}

	if c.local != nil {
		c.local.set(key, entry)
	}

	if c.config.EnableRedis && c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return c.redis.Set(ctx, c.redisKey(key), data, c.config.RedisTTL).Err()
	}
	return nil
}

func (c *AnswerCache) redisKey(key string) string {
	return "chefrag:answer:" + key
}

// CacheKey 根据对话消息生成缓存键.
func CacheKey(model string, messages []types.Message) string {
	h := sha256.New()
	h.Write([]byte(model))
	for _, m := range messages {
		h.Write([]byte{0})
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ====== 缓存装饰器 ======

// CachedChatProvider 为任意 ChatProvider 增加回答缓存.
// 只缓存 Chat 结果; Complete 用于分类与改写, 结果依赖对话状态, 不缓存.
type CachedChatProvider struct {
	inner  ChatProvider
	cache  *AnswerCache
	model  string
	logger *zap.Logger
}

// NewCachedChatProvider 包装 inner 提供者.
func NewCachedChatProvider(inner ChatProvider, cache *AnswerCache, model string, logger *zap.Logger) *CachedChatProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedChatProvider{
		inner:  inner,
		cache:  cache,
		model:  model,
		logger: logger.With(zap.String("component", "cached_provider")),
	}
}

func (p *CachedChatProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return p.inner.Complete(ctx, prompt)
}

func (p *CachedChatProvider) Chat(ctx context.Context, messages []types.Message) (string, error) {
	key := CacheKey(p.model, messages)

	if entry, err := p.cache.Get(ctx, key); err == nil {
		p.logger.Debug("answer cache hit", zap.String("key", key[:12]))
		return entry.Answer, nil
	}

	answer, err := p.inner.Chat(ctx, messages)
	if err != nil {
		return "", err
	}

	if err := p.cache.Set(ctx, key, answer); err != nil {
		p.logger.Warn("answer cache set failed", zap.Error(err))
	}
	return answer, nil
}

// ====== 本地 LRU ======

type lruCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	order   *list.List
	entries map[string]*list.Element
}

type lruItem struct {
	key       string
	entry     *CacheEntry
	expiresAt time.Time
}

func newLRUCache(maxSize int, ttl time.Duration) *lruCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	return &lruCache{
		maxSize: maxSize,
		ttl:     ttl,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *lruCache) get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	item := elem.Value.(*lruItem)
	if time.Now().After(item.expiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		return nil, false
	}
	c.order.MoveToFront(elem)
	return item.entry, true
}

func (c *lruCache) set(key string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		item := elem.Value.(*lruItem)
		item.entry = entry
		item.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&lruItem{
		key:       key,
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.entries[key] = elem

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruItem).key)
	}
}
