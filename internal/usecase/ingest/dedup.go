package ingest

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultDedupSize = 4096

// LRUDeduper es el historial acotado de IDs recientes en memoria.
type LRUDeduper struct {
	cache *lru.Cache[string, struct{}]
}

func NewLRUDeduper(size int) (*LRUDeduper, error) {
	if size <= 0 {
		size = DefaultDedupSize
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	return &LRUDeduper{cache: cache}, nil
}

func (d *LRUDeduper) MarkSeen(_ context.Context, key string) bool {
	found, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return !found
}
