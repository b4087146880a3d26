// Package client speaks the JSON envelope over TCP: one write per request,
// one response per write.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loganszeto/phoenixkv/internal/protocol"
)

// Client is safe for concurrent use; calls are serialized on the connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	dec  *json.Decoder
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

func New(conn net.Conn) *Client {
	return &Client{conn: conn, dec: json.NewDecoder(conn)}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	b, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encode: %w", err)
	}
	return c.RoundTrip(ctx, b)
}

// RoundTrip sends payload as-is and reads one response.
func (c *Client) RoundTrip(ctx context.Context, payload []byte) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return protocol.Response{}, err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return protocol.Response{}, fmt.Errorf("write: %w", err)
	}
	var raw json.RawMessage
	if err := c.dec.Decode(&raw); err != nil {
		return protocol.Response{}, fmt.Errorf("read: %w", err)
	}
	return protocol.DecodeResponse(raw)
}

func (c *Client) Insert(ctx context.Context, key string, value any, ttl time.Duration) (protocol.Response, error) {
	v, err := structpb.NewValue(value)
	if err != nil {
		return protocol.Response{}, err
	}
	return c.Do(ctx, protocol.Command{
		Name:   protocol.OpInsert.String(),
		Keys:   []string{key},
		Values: []*structpb.Value{v},
		TTLs:   []time.Duration{ttl},
	})
}

func (c *Client) Lookup(ctx context.Context, key string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Command{Name: protocol.OpLookup.String(), Keys: []string{key}})
}

func (c *Client) Delete(ctx context.Context, key string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Command{Name: protocol.OpDelete.String(), Keys: []string{key}})
}

// InsertMany sends keys and values position by position; ttls may be shorter
// than keys.
func (c *Client) InsertMany(ctx context.Context, keys []string, values []any, ttls []time.Duration) (protocol.Response, error) {
	vals := make([]*structpb.Value, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}
		v, err := structpb.NewValue(raw)
		if err != nil {
			return protocol.Response{}, fmt.Errorf("value %d: %w", i, err)
		}
		vals[i] = v
	}
	return c.Do(ctx, protocol.Command{
		Name:   protocol.OpInsertMany.String(),
		Keys:   keys,
		Values: vals,
		TTLs:   ttls,
	})
}

func (c *Client) LookupMany(ctx context.Context, keys []string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Command{Name: protocol.OpLookupMany.String(), Keys: keys})
}

func (c *Client) DeleteMany(ctx context.Context, keys []string) (protocol.Response, error) {
	return c.Do(ctx, protocol.Command{Name: protocol.OpDeleteMany.String(), Keys: keys})
}
