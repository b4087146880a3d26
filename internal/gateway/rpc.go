package gateway

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loganszeto/phoenixkv/internal/protocol"
)

// ExecuteProcedure carries the JSON envelope as a google.protobuf.Struct in
// both directions, so no generated stubs are needed. Struct numbers are
// doubles, so integers past 2^53 are already rounded when the request arrives.
const ExecuteProcedure = "/phoenixkv.v1.KVService/Execute"

func (g *Gateway) execute(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	b, err := protojson.Marshal(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	var resp protocol.Response
	cmd, err := protocol.DecodeCommand(b)
	switch {
	case errors.Is(err, protocol.ErrInvalidArgument):
		g.stats.RecordError()
		resp = protocol.Errorf("%s", err)
	case err != nil:
		g.stats.RecordError()
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	default:
		resp = g.d.Dispatch(ctx, cmd)
	}
	out, err := responseStruct(resp)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(out), nil
}

func responseStruct(resp protocol.Response) (*structpb.Struct, error) {
	b, err := protocol.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func commandStruct(cmd protocol.Command) (*structpb.Struct, error) {
	b, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RPCClient calls ExecuteProcedure on a gateway.
type RPCClient struct {
	c *connect.Client[structpb.Struct, structpb.Struct]
}

func NewRPCClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RPCClient {
	return &RPCClient{c: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+ExecuteProcedure, opts...)}
}

func (c *RPCClient) Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	msg, err := commandStruct(cmd)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encode: %w", err)
	}
	return c.RoundTrip(ctx, msg)
}

// RoundTrip sends an already-built request struct.
func (c *RPCClient) RoundTrip(ctx context.Context, msg *structpb.Struct) (protocol.Response, error) {
	res, err := c.c.CallUnary(ctx, connect.NewRequest(msg))
	if err != nil {
		return protocol.Response{}, err
	}
	b, err := protojson.Marshal(res.Msg)
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.DecodeResponse(b)
}
