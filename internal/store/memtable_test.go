package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loganszeto/phoenixkv/internal/util"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore() (*MemTable, *util.ManualClock) {
	clock := util.NewManualClock(epoch)
	return NewStore(Options{Clock: clock}), clock
}

func str(s string) *structpb.Value {
	return structpb.NewStringValue(s)
}

func TestSetGet(t *testing.T) {
	st, clock := newTestStore()
	st.Set("a", NewEntry(str("1"), 0, clock.Now()))

	ent, ok := st.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", ent.Value.GetStringValue())

	_, ok = st.Get("missing")
	assert.False(t, ok)
}

func TestSetReplaces(t *testing.T) {
	st, clock := newTestStore()
	st.Set("a", NewEntry(str("v1"), 0, clock.Now()))
	st.Set("a", NewEntry(str("v2"), 0, clock.Now()))

	ent, ok := st.Get("a")
	require.True(t, ok)
	assert.Equal(t, "v2", ent.Value.GetStringValue())
	assert.Equal(t, 1, st.Len())
}

func TestNoAliasing(t *testing.T) {
	st, clock := newTestStore()
	list, err := structpb.NewList([]any{"x", "y"})
	require.NoError(t, err)
	in := structpb.NewListValue(list)
	st.Set("l", NewEntry(in, 0, clock.Now()))

	in.GetListValue().Values[0] = str("mutated")
	got, ok := st.Get("l")
	require.True(t, ok)
	assert.Equal(t, "x", got.Value.GetListValue().Values[0].GetStringValue())

	got.Value.GetListValue().Values[1] = str("mutated")
	again, _ := st.Get("l")
	assert.Equal(t, "y", again.Value.GetListValue().Values[1].GetStringValue())
}

func TestDelete(t *testing.T) {
	st, clock := newTestStore()
	st.Set("a", NewEntry(str("1"), 0, clock.Now()))

	assert.True(t, st.Delete("a"))
	assert.False(t, st.Delete("a"))
	_, ok := st.Get("a")
	assert.False(t, ok)
}

func TestGetManyAligned(t *testing.T) {
	st, clock := newTestStore()
	st.Set("a", NewEntry(str("1"), 0, clock.Now()))
	st.Set("c", NewEntry(str("3"), 0, clock.Now()))

	got := st.GetMany([]string{"a", "b", "c"})
	require.Len(t, got, 3)
	require.NotNil(t, got[0])
	assert.Nil(t, got[1])
	require.NotNil(t, got[2])
	assert.Equal(t, "1", got[0].Value.GetStringValue())
	assert.Equal(t, "3", got[2].Value.GetStringValue())
}

func TestSetManyAppliesAll(t *testing.T) {
	st, clock := newTestStore()
	batch := map[string]Entry{
		"a": NewEntry(str("1"), 0, clock.Now()),
		"b": NewEntry(str("2"), time.Minute, clock.Now()),
	}
	st.SetMany(batch)
	assert.Equal(t, 2, st.Len())

	ent, ok := st.Get("b")
	require.True(t, ok)
	exp, set := ent.ExpiresAt()
	assert.True(t, set)
	assert.Equal(t, epoch.Add(time.Minute), exp)
}

func TestDeleteManyReportsPresentOnly(t *testing.T) {
	st, clock := newTestStore()
	st.Set("k1", NewEntry(str("1"), 0, clock.Now()))
	st.Set("k3", NewEntry(str("3"), 0, clock.Now()))

	removed := st.DeleteMany([]string{"k1", "k2", "k3", "k1"})
	assert.Equal(t, []string{"k1", "k3"}, removed)
	assert.Equal(t, 0, st.Len())
}

func TestExpiryComputedAtInsert(t *testing.T) {
	st, clock := newTestStore()
	st.Set("t", NewEntry(str("x"), time.Second, clock.Now()))

	clock.Advance(500 * time.Millisecond)
	_, ok := st.Get("t")
	assert.True(t, ok)

	clock.Advance(500 * time.Millisecond)
	_, ok = st.Get("t")
	assert.False(t, ok, "entry must be hidden once expiresAt <= now")
	assert.False(t, st.Delete("t"), "expired entries delete as not found")
}

func TestEntryWithoutTTLNeverExpires(t *testing.T) {
	ent := NewEntry(str("x"), 0, epoch)
	_, set := ent.ExpiresAt()
	assert.False(t, set)
	assert.False(t, ent.Expired(epoch.Add(100*365*24*time.Hour)))

	neg := NewEntry(str("x"), -time.Second, epoch)
	assert.False(t, neg.Expired(epoch.Add(time.Hour)))
}

func TestSweep(t *testing.T) {
	st, clock := newTestStore()
	now := clock.Now()
	st.Set("short", NewEntry(str("1"), time.Second, now))
	st.Set("edge", NewEntry(str("2"), 2*time.Second, now))
	st.Set("long", NewEntry(str("3"), time.Hour, now))
	st.Set("forever", NewEntry(str("4"), 0, now))

	assert.Equal(t, 0, st.Sweep(now))
	assert.Equal(t, 2, st.Sweep(now.Add(2*time.Second)))
	assert.Equal(t, 2, st.Len())

	_, ok := st.Get("long")
	assert.True(t, ok)
	_, ok = st.Get("forever")
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	st, clock := newTestStore()
	const workers = 16
	const loops = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < loops; i++ {
				key := fmt.Sprintf("k:%d:%d", id, i%10)
				st.Set(key, NewEntry(str(key), 0, clock.Now()))
				ent, ok := st.Get(key)
				if ok && !proto.Equal(ent.Value, str(key)) {
					t.Errorf("key %s holds %v", key, ent.Value)
				}
				st.SetMany(map[string]Entry{key + ":b": NewEntry(str("b"), time.Millisecond, clock.Now())})
				st.GetMany([]string{key, key + ":b"})
				st.Sweep(clock.Now())
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, workers*10*2, st.Len())
}

// A reader must see a bulk insert either entirely or not at all.
func TestSetManyNeverPartial(t *testing.T) {
	st, clock := newTestStore()
	keys := make([]string, 50)
	for i := range keys {
		keys[i] = fmt.Sprintf("batch:%d", i)
	}

	done := make(chan struct{})
	var readerErr error
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			got := st.GetMany(keys)
			hits := 0
			for _, e := range got {
				if e != nil {
					hits++
				}
			}
			if hits != 0 && hits != len(keys) {
				readerErr = fmt.Errorf("observed %d of %d keys", hits, len(keys))
				return
			}
		}
	}()

	batch := make(map[string]Entry, len(keys))
	for _, k := range keys {
		batch[k] = NewEntry(str(k), 0, clock.Now())
	}
	st.SetMany(batch)
	<-done
	require.NoError(t, readerErr)
}
