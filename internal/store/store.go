package store

import "time"

// Store is the key to entry table shared by every connection and the reaper.
// Implementations must make every bulk write visible all at once.
type Store interface {
	Get(key string) (Entry, bool)
	Set(key string, ent Entry)
	Delete(key string) bool
	GetMany(keys []string) []*Entry
	SetMany(batch map[string]Entry)
	DeleteMany(keys []string) []string
	Len() int
	Sweep(now time.Time) int
}
