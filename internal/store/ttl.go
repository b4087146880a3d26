package store

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Entry is one stored value. The expiry instant is fixed when the entry is
// built and never derived from the time of the check.
type Entry struct {
	Value     *structpb.Value
	TTL       time.Duration
	expiresAt time.Time
}

// NewEntry builds an entry inserted at now. A ttl <= 0 means the entry never
// expires.
func NewEntry(v *structpb.Value, ttl time.Duration, now time.Time) Entry {
	ent := Entry{Value: v}
	if ttl > 0 {
		ent.TTL = ttl
		ent.expiresAt = now.Add(ttl)
	}
	return ent
}

func (e Entry) ExpiresAt() (time.Time, bool) {
	return e.expiresAt, !e.expiresAt.IsZero()
}

func (e Entry) Expired(now time.Time) bool {
	return IsExpired(e.expiresAt, now)
}

func IsExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

func (e Entry) clone() Entry {
	e.Value = cloneValue(e.Value)
	return e
}

func cloneValue(v *structpb.Value) *structpb.Value {
	if v == nil {
		return nil
	}
	return proto.Clone(v).(*structpb.Value)
}
