// Package memcache 实现进程内的内存层：按条目数与字节数双重限额的 LRU。
// 所有操作都在实例互斥锁内完成，并发 Set 同一 key 不会破坏内部结构。
package memcache

import (
	"container/list"
	"sync"

	"github.com/media-hub/media-hub/internal/cachekey"
)

// Options 控制内存层容量，任一项 <= 0 表示该维度不限。
type Options struct {
	MaxEntries int
	MaxBytes   int64
}

// Stats 是内存层的运行指标快照。
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Skipped   int64 `json:"skipped"`
}

// Cache 是有界 LRU。返回的切片与缓存共享底层数组，调用方只能读。
type Cache struct {
	opts Options

	mu    sync.Mutex
	items map[cachekey.Key]*list.Element
	order *list.List
	size  int64
	stats Stats
}

type entry struct {
	key  cachekey.Key
	data []byte
}

// New 构建内存层。
func New(opts Options) *Cache {
	return &Cache{
		opts:  opts,
		items: make(map[cachekey.Key]*list.Element),
		order: list.New(),
	}
}

// Get 查询 key，命中时将其标记为最近使用。未命中是正常结果。
func (c *Cache) Get(key cachekey.Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*entry).data, true
}

// Set 插入或替换 key，必要时淘汰最久未用的条目。超过字节预算的单个条目直接忽略。
func (c *Cache) Set(key cachekey.Key, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueSize := int64(len(data))
	if c.opts.MaxBytes > 0 && valueSize > c.opts.MaxBytes {
		c.stats.Skipped++
		if elem, ok := c.items[key]; ok {
			c.removeElement(elem)
		}
		return
	}

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		c.size += valueSize - int64(len(ent.data))
		ent.data = data
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&entry{key: key, data: data})
		c.size += valueSize
	}

	for c.overBudget() {
		oldest := c.order.Back()
		if oldest == nil || oldest == c.order.Front() {
			break
		}
		c.removeElement(oldest)
		c.stats.Evictions++
	}
}

// Delete 移除 key，不存在时为空操作。
func (c *Cache) Delete(key cachekey.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear 清空全部条目，保留统计计数。
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[cachekey.Key]*list.Element)
	c.order.Init()
	c.size = 0
}

// Len 返回当前条目数。
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size 返回当前占用字节数。
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats 返回统计快照。
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.Bytes = c.size
	stats.MaxBytes = c.opts.MaxBytes
	return stats
}

// overBudget must be called with mu held.
func (c *Cache) overBudget() bool {
	if c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries {
		return true
	}
	return c.opts.MaxBytes > 0 && c.size > c.opts.MaxBytes
}

// removeElement must be called with mu held.
func (c *Cache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	ent := elem.Value.(*entry)
	delete(c.items, ent.key)
	c.size -= int64(len(ent.data))
}
