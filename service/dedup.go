package service

import (
	"sync"
	"time"
)

// deduplicator 通知去重，key为事件哈希，窗口外的key惰性清理
type deduplicator struct {
	lock   sync.Mutex
	window time.Duration
	seen   map[uint64]time.Time

	now func() time.Time
}

func newDeduplicator(window time.Duration) *deduplicator {
	return &deduplicator{
		window: window,
		seen:   make(map[uint64]time.Time),
		now:    time.Now,
	}
}

// Seen 返回key是否在窗口内出现过，未出现则记录
func (d *deduplicator) Seen(key uint64) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	now := d.now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}

	d.seen[key] = now
	if len(d.seen) > 1024 {
		d.purgeLocked(now)
	}
	return false
}

func (d *deduplicator) purgeLocked(now time.Time) {
	for key, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, key)
		}
	}
}

func (d *deduplicator) Len() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.seen)
}
