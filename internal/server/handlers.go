package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loganszeto/phoenixkv/internal/protocol"
	"github.com/loganszeto/phoenixkv/internal/stats"
	"github.com/loganszeto/phoenixkv/internal/store"
	"github.com/loganszeto/phoenixkv/internal/util"
)

type DispatcherOptions struct {
	Clock  util.Clock
	Stats  *stats.Stats
	Logger *slog.Logger
}

// Dispatcher turns a Command into store calls. It keeps no state between
// requests and is safe for concurrent use.
type Dispatcher struct {
	st     store.Store
	clock  util.Clock
	stats  *stats.Stats
	logger *slog.Logger
}

func NewDispatcher(st store.Store, opts DispatcherOptions) *Dispatcher {
	d := &Dispatcher{
		st:     st,
		clock:  util.OrReal(opts.Clock),
		stats:  opts.Stats,
		logger: opts.Logger,
	}
	if d.stats == nil {
		d.stats = stats.New()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

func (d *Dispatcher) Stats() *stats.Stats {
	return d.stats
}

func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command) protocol.Response {
	op, err := protocol.ParseOp(cmd.Name)
	if err != nil {
		d.stats.RecordError()
		d.logger.DebugContext(ctx, "rejected command", "name", cmd.Name)
		return protocol.Errorf("%s", err)
	}

	var resp protocol.Response
	switch op {
	case protocol.OpInsert:
		resp = d.insert(cmd)
	case protocol.OpLookup:
		resp = d.lookup(cmd)
	case protocol.OpDelete:
		resp = d.delete(cmd)
	case protocol.OpInsertMany:
		resp = d.insertMany(cmd)
	case protocol.OpLookupMany:
		resp = d.lookupMany(cmd)
	case protocol.OpDeleteMany:
		resp = d.deleteMany(cmd)
	default:
		resp = protocol.Errorf("unhandled command '%s'", op)
	}

	if resp.IsError() {
		d.stats.RecordError()
	}
	d.logger.DebugContext(ctx, "dispatched", "op", op.String(), "keys", len(cmd.Keys), "action", resp.Action, "error", resp.Err)
	return resp
}

func (d *Dispatcher) insert(cmd protocol.Command) protocol.Response {
	key, hasKey := cmd.KeyAt(0)
	val, ttl := valueAt(cmd.Values, 0), ttlAt(cmd.TTLs, 0)
	if !hasKey || val == nil {
		return protocol.Errorf("missing key/value for INSERT")
	}
	if ttl < 0 {
		return protocol.Errorf("negative ttl for INSERT")
	}
	d.st.Set(key, store.NewEntry(val, ttl, d.clock.Now()))
	d.stats.RecordInsert(1)
	return protocol.OK()
}

func (d *Dispatcher) lookup(cmd protocol.Command) protocol.Response {
	key, ok := cmd.KeyAt(0)
	if !ok {
		return protocol.Errorf("missing key for LOOKUP")
	}
	ent, ok := d.st.Get(key)
	d.stats.RecordLookup(ok)
	if !ok {
		return protocol.Found(nil)
	}
	return protocol.Found(ent.Value)
}

func (d *Dispatcher) delete(cmd protocol.Command) protocol.Response {
	key, ok := cmd.KeyAt(0)
	if !ok {
		return protocol.Errorf("missing key for DELETE")
	}
	if !d.st.Delete(key) {
		return protocol.Errorf("Key '%s' not found.", key)
	}
	d.stats.RecordDelete(1)
	return protocol.OK()
}

// insertMany validates the whole batch into a staging map before touching the
// store. Any malformed position rejects the batch and nothing is written.
func (d *Dispatcher) insertMany(cmd protocol.Command) protocol.Response {
	n := max(len(cmd.Keys), len(cmd.Values))
	if n == 0 {
		return protocol.Errorf("missing keys/values for INSERT *")
	}

	now := d.clock.Now()
	staged := make(map[string]store.Entry, n)
	var problems []string
	for i := 0; i < max(n, len(cmd.TTLs)); i++ {
		key, hasKey := cmd.KeyAt(i)
		val, ttl := valueAt(cmd.Values, i), ttlAt(cmd.TTLs, i)
		switch {
		case i >= n:
			problems = append(problems, fmt.Sprintf("entry %d: ttl without key/value", i))
		case !hasKey && val == nil:
			problems = append(problems, fmt.Sprintf("entry %d: missing key and value", i))
		case !hasKey:
			problems = append(problems, fmt.Sprintf("entry %d: missing key", i))
		case val == nil:
			problems = append(problems, fmt.Sprintf("entry %d: missing value", i))
		case ttl < 0:
			problems = append(problems, fmt.Sprintf("entry %d: negative ttl", i))
		default:
			staged[key] = store.NewEntry(val, ttl, now)
		}
	}
	if len(problems) > 0 {
		return protocol.Errorf("invalid bulk insert: %s", strings.Join(problems, "; "))
	}

	d.st.SetMany(staged)
	d.stats.RecordInsert(len(staged))
	return protocol.OK()
}

// lookupMany returns the values of the keys that exist; misses are dropped.
func (d *Dispatcher) lookupMany(cmd protocol.Command) protocol.Response {
	if len(cmd.Keys) == 0 {
		return protocol.Errorf("missing keys for LOOKUP *")
	}
	for i := range cmd.Keys {
		if _, ok := cmd.KeyAt(i); !ok {
			return protocol.Errorf("missing key in bulk lookup")
		}
	}

	found := make([]*structpb.Value, 0, len(cmd.Keys))
	for _, ent := range d.st.GetMany(cmd.Keys) {
		d.stats.RecordLookup(ent != nil)
		if ent != nil {
			found = append(found, ent.Value)
		}
	}
	return protocol.Found(structpb.NewListValue(&structpb.ListValue{Values: found}))
}

// deleteMany returns the keys that were present and removed; misses are
// dropped.
func (d *Dispatcher) deleteMany(cmd protocol.Command) protocol.Response {
	if len(cmd.Keys) == 0 {
		return protocol.Errorf("missing keys for DELETE *")
	}
	for i := range cmd.Keys {
		if _, ok := cmd.KeyAt(i); !ok {
			return protocol.Errorf("missing key in bulk delete")
		}
	}

	removed := d.st.DeleteMany(cmd.Keys)
	d.stats.RecordDelete(len(removed))
	out := make([]*structpb.Value, len(removed))
	for i, k := range removed {
		out[i] = structpb.NewStringValue(k)
	}
	return protocol.Found(structpb.NewListValue(&structpb.ListValue{Values: out}))
}

func valueAt(vals []*structpb.Value, i int) *structpb.Value {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func ttlAt(ttls []time.Duration, i int) time.Duration {
	if i < len(ttls) {
		return ttls[i]
	}
	return 0
}
