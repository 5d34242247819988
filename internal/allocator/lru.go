package allocator

import (
	"container/list"

	"github.com/ctib-core/Pulley/internal/xmsg"
)

// processedCapacity bounds the in-memory replay set. Evicted IDs fall
// through to the durable tier.
const processedCapacity = 1 << 20

// processedLRU is the in-memory tier of replay protection: a bounded LRU
// over resolved request IDs. Eviction is safe because the durable tier
// still answers for evicted entries; the LRU only keeps the hot path off
// Postgres. Not thread-safe — only accessed under the allocator mutex.
type processedLRU struct {
	capacity int
	cache    map[xmsg.RequestID]*list.Element
	lruList  *list.List
}

func newProcessedLRU(capacity int) *processedLRU {
	return &processedLRU{
		capacity: capacity,
		cache:    make(map[xmsg.RequestID]*list.Element),
		lruList:  list.New(),
	}
}

// Contains checks if id exists, promoting it to most recently used.
func (lru *processedLRU) Contains(id xmsg.RequestID) bool {
	elem, exists := lru.cache[id]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts id, or promotes it if already present.
func (lru *processedLRU) Add(id xmsg.RequestID) {
	if elem, exists := lru.cache[id]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(id)
	lru.cache[id] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

// Remove deletes id. Used to roll back a mark when the durable tier
// rejects the write, so a redelivery can retry the whole step.
func (lru *processedLRU) Remove(id xmsg.RequestID) {
	if elem, exists := lru.cache[id]; exists {
		lru.lruList.Remove(elem)
		delete(lru.cache, id)
	}
}

func (lru *processedLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		delete(lru.cache, elem.Value.(xmsg.RequestID))
	}
}

// Size returns the current number of entries.
func (lru *processedLRU) Size() int {
	return lru.lruList.Len()
}
