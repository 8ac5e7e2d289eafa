package ipinfo

import "container/list"

// Cache is a bounded least-recently-used store of Records keyed by IP string.
// It is not safe for concurrent use.
type Cache struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element

	// OnEvict, when set, is called with the key of every entry dropped for capacity.
	OnEvict func(ip string)
}

type cacheEntry struct {
	ip  string
	rec *Record
}

// NewCache returns an empty cache holding at most capacity entries.
// It panics if capacity is not positive.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		panic("ipinfo: cache capacity must be positive")
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the cached record for ip and marks it most recently used.
func (c *Cache) Get(ip string) (*Record, bool) {
	e, ok := c.index[ip]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry).rec, true
}

// Put inserts or replaces the record for ip and marks it most recently used,
// evicting the least recently used entry if the cache grows past capacity.
func (c *Cache) Put(ip string, rec *Record) {
	if e, ok := c.index[ip]; ok {
		e.Value = &cacheEntry{ip: ip, rec: rec}
		c.order.MoveToFront(e)
		return
	}
	c.index[ip] = c.order.PushFront(&cacheEntry{ip: ip, rec: rec})
	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
}

// Contains reports whether ip is cached without touching its recency.
func (c *Cache) Contains(ip string) bool {
	_, ok := c.index[ip]
	return ok
}

// Flush drops every entry. The capacity is unchanged.
func (c *Cache) Flush() {
	c.order.Init()
	c.index = make(map[string]*list.Element, c.capacity)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int { return c.order.Len() }

// Cap returns the maximum number of entries.
func (c *Cache) Cap() int { return c.capacity }

// Keys returns the cached IPs from most to least recently used.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry).ip)
	}
	return keys
}

func (c *Cache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	ent := c.order.Remove(back).(*cacheEntry)
	delete(c.index, ent.ip)
	if c.OnEvict != nil {
		c.OnEvict(ent.ip)
	}
}
