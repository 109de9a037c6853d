// Package cache 提供带过期时间的内存缓存
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache 通用缓存接口
type Cache[V any] interface {
	// Set 设置缓存项，ttl<=0 表示不过期
	Set(key string, value V, ttl time.Duration)

	// Get 获取缓存项
	Get(key string) (V, bool)

	// Delete 删除缓存项
	Delete(key string)

	// Clear 清空所有缓存
	Clear()

	// Size 获取未过期的缓存项数量
	Size() int
}

type item[V any] struct {
	value     V
	expiresAt time.Time // 零值表示不过期
}

func (i *item[V]) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && now.After(i.expiresAt)
}

// MemoryCache 基于内存的缓存实现
type MemoryCache[V any] struct {
	items map[string]*item[V]
	mutex sync.RWMutex
	now   func() time.Time
}

var _ Cache[string] = (*MemoryCache[string])(nil)

// NewMemoryCache 创建新的内存缓存
func NewMemoryCache[V any]() *MemoryCache[V] {
	return &MemoryCache[V]{
		items: make(map[string]*item[V]),
		now:   time.Now,
	}
}

// Set 设置缓存项
func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	entry := &item[V]{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mutex.Lock()
	c.items[key] = entry
	c.mutex.Unlock()
}

// Get 获取缓存项，过期项视为不存在
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mutex.RLock()
	entry, exists := c.items[key]
	c.mutex.RUnlock()

	var zero V
	if !exists {
		return zero, false
	}
	if entry.expired(c.now()) {
		c.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Delete 删除缓存项
func (c *MemoryCache[V]) Delete(key string) {
	c.mutex.Lock()
	delete(c.items, key)
	c.mutex.Unlock()
}

// Clear 清空所有缓存
func (c *MemoryCache[V]) Clear() {
	c.mutex.Lock()
	c.items = make(map[string]*item[V])
	c.mutex.Unlock()
}

// Size 获取未过期的缓存项数量
func (c *MemoryCache[V]) Size() int {
	now := c.now()
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	count := 0
	for _, entry := range c.items {
		if !entry.expired(now) {
			count++
		}
	}
	return count
}

// Cleanup 清理过期项，返回清理数量
func (c *MemoryCache[V]) Cleanup() int {
	now := c.now()
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for key, entry := range c.items {
		if entry.expired(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Run 定期清理过期项，直到 ctx 取消
func (c *MemoryCache[V]) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
