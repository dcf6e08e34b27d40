package kafka

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// seqDedupe remembers the highest sequence applied per collection.
type seqDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newSeqDedupe(size int) *seqDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &seqDedupe{lru: c}
}

// shouldApply reports whether seq is newer than the last one seen for
// collection. Unsequenced events (seq 0) always apply.
func (d *seqDedupe) shouldApply(collection string, seq uint64) bool {
	if seq == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(collection); ok && seq <= last {
		return false
	}
	d.lru.Add(collection, seq)
	return true
}
