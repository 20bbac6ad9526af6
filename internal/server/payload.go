package server

import (
	"time"

	"github.com/leonardcser/feedcache/internal/cache"
	"github.com/leonardcser/feedcache/internal/resource"
)

type entryPayload struct {
	Key       string             `json:"key"`
	Stale     bool               `json:"stale"`
	ExpireAt  *time.Time         `json:"expire_at,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Resource  *resource.Resource `json:"resource"`
}

func newEntryPayload(key string, item cache.Item[resource.Resource]) entryPayload {
	res := item.Payload
	return entryPayload{
		Key:       key,
		Stale:     item.Stale,
		ExpireAt:  item.ExpireAt,
		CreatedAt: item.CreatedAt,
		Resource:  &res,
	}
}
