package gateway

import (
	"container/list"
	"sync"
	"time"

	"github.com/msageha/phasegate/internal/model"
)

// ResultCache is a thread-safe LRU cache of validation results keyed by content fingerprint.
type ResultCache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	lru     *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheItem struct {
	key       string
	value     *model.ValidationResult
	expiresAt time.Time
}

func NewResultCache(maxSize int, ttl time.Duration) *ResultCache {
	if maxSize <= 0 {
		maxSize = 256
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ResultCache{
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the cached result, or nil on miss or expiry.
func (c *ResultCache) Get(key string) *model.ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil
	}
	item := elem.Value.(*cacheItem)
	if c.now().After(item.expiresAt) {
		c.removeElement(elem)
		return nil
	}
	c.lru.MoveToFront(elem)
	return cloneResult(item.value)
}

func (c *ResultCache) Set(key string, value *model.ValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		item := elem.Value.(*cacheItem)
		item.value = cloneResult(value)
		item.expiresAt = c.now().Add(c.ttl)
		return
	}

	elem := c.lru.PushFront(&cacheItem{
		key:       key,
		value:     cloneResult(value),
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru = list.New()
}

func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *ResultCache) removeElement(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*cacheItem).key)
}

func cloneResult(r *model.ValidationResult) *model.ValidationResult {
	if r == nil {
		return nil
	}
	out := &model.ValidationResult{
		PhaseID:       r.PhaseID,
		OverallPassed: r.OverallPassed,
		Errors:        append([]string{}, r.Errors...),
		Warnings:      append([]string{}, r.Warnings...),
		Layers:        make(map[string]*model.LayerResult, len(r.Layers)),
	}
	for name, layer := range r.Layers {
		out.Layers[name] = &model.LayerResult{
			Passed:   layer.Passed,
			Messages: append([]string{}, layer.Messages...),
			Warnings: append([]string{}, layer.Warnings...),
		}
	}
	return out
}
