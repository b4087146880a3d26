package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loganszeto/phoenixkv/internal/util"
)

// wireCommand accepts both the singular key/value/ttl fields and the plural
// lists. Pointers and raw messages keep null distinguishable from a value.
type wireCommand struct {
	Name   *string           `json:"name"`
	Key    *string           `json:"key,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`
	TTL    json.RawMessage   `json:"ttl,omitempty"`
	Keys   []*string         `json:"keys,omitempty"`
	Values []json.RawMessage `json:"values,omitempty"`
	TTLs   []json.RawMessage `json:"ttls,omitempty"`
}

type wireResponse struct {
	Action Action          `json:"action"`
	Value  json.RawMessage `json:"value"`
	Error  *string         `json:"error"`
}

var jsonNull = json.RawMessage("null")

// DecodeCommand parses exactly one JSON request. Trailing bytes after the
// object are an error. Malformed JSON wraps ErrInvalidRequest; a value or ttl
// that cannot be stored wraps ErrInvalidArgument.
func DecodeCommand(b []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(b, &w); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if w.Name == nil {
		return Command{}, fmt.Errorf("%w: missing field 'name'", ErrInvalidRequest)
	}
	cmd := Command{Name: *w.Name}

	keys := w.Keys
	if w.Key != nil {
		keys = append([]*string{w.Key}, keys...)
	}
	for i, k := range keys {
		if k == nil {
			cmd.Keys = append(cmd.Keys, "")
			cmd.NullKeys = append(cmd.NullKeys, i)
			continue
		}
		cmd.Keys = append(cmd.Keys, *k)
	}

	raws := w.Values
	if !isNull(w.Value) {
		raws = append([]json.RawMessage{w.Value}, raws...)
	}
	for i, raw := range raws {
		v, err := decodeValue(raw)
		if err != nil {
			return Command{}, fmt.Errorf("%w: value %d: %v", ErrInvalidArgument, i, err)
		}
		cmd.Values = append(cmd.Values, v)
	}

	ttls := w.TTLs
	if !isNull(w.TTL) {
		ttls = append([]json.RawMessage{w.TTL}, ttls...)
	}
	for i, raw := range ttls {
		var d util.Duration
		if !isNull(raw) {
			if err := d.UnmarshalJSON(raw); err != nil {
				return Command{}, fmt.Errorf("%w: ttl %d: %v", ErrInvalidArgument, i, err)
			}
		}
		cmd.TTLs = append(cmd.TTLs, d.Std())
	}
	return cmd, nil
}

// EncodeCommand always uses the plural lists.
func EncodeCommand(cmd Command) ([]byte, error) {
	name := cmd.Name
	w := wireCommand{Name: &name}
	for i := range cmd.Keys {
		k, ok := cmd.KeyAt(i)
		if !ok {
			w.Keys = append(w.Keys, nil)
			continue
		}
		w.Keys = append(w.Keys, &k)
	}
	for _, v := range cmd.Values {
		raw, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		w.Values = append(w.Values, raw)
	}
	for _, d := range cmd.TTLs {
		if d == 0 {
			w.TTLs = append(w.TTLs, jsonNull)
			continue
		}
		raw, err := util.Duration(d).MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.TTLs = append(w.TTLs, raw)
	}
	return json.Marshal(w)
}

func EncodeResponse(resp Response) ([]byte, error) {
	raw, err := encodeValue(resp.Value)
	if err != nil {
		return nil, err
	}
	w := wireResponse{Action: resp.Action, Value: raw}
	if resp.Action == ActionError {
		msg := resp.Err
		w.Error = &msg
	}
	return json.Marshal(w)
}

func DecodeResponse(b []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(b, &w); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	switch w.Action {
	case ActionCommand, ActionError:
	default:
		return Response{}, fmt.Errorf("%w: unknown action %q", ErrInvalidResponse, w.Action)
	}
	v, err := decodeValue(w.Value)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	resp := Response{Action: w.Action, Value: v}
	if w.Error != nil {
		resp.Err = *w.Error
	}
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, jsonNull)
}

func decodeValue(raw json.RawMessage) (*structpb.Value, error) {
	if isNull(raw) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return nil, err
	}
	return toValue(x)
}

// toValue converts UseNumber output into a structpb value. Numbers are
// float64 there, so an integer that would round is rejected instead.
func toValue(x any) (*structpb.Value, error) {
	switch x := x.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case bool:
		return structpb.NewBoolValue(x), nil
	case string:
		return structpb.NewStringValue(x), nil
	case json.Number:
		f, err := exactFloat(x)
		if err != nil {
			return nil, err
		}
		return structpb.NewNumberValue(f), nil
	case []any:
		list := &structpb.ListValue{Values: make([]*structpb.Value, len(x))}
		for i, item := range x {
			v, err := toValue(item)
			if err != nil {
				return nil, err
			}
			list.Values[i] = v
		}
		return structpb.NewListValue(list), nil
	case map[string]any:
		obj := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(x))}
		for k, item := range x {
			v, err := toValue(item)
			if err != nil {
				return nil, err
			}
			obj.Fields[k] = v
		}
		return structpb.NewStructValue(obj), nil
	default:
		return nil, fmt.Errorf("unsupported JSON type %T", x)
	}
}

// exactFloat rejects integer literals that would not print back unchanged,
// which is how a value is read back out.
func exactFloat(n json.Number) (float64, error) {
	s := n.String()
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("number %s out of range", s)
	}
	if !strings.ContainsAny(s, ".eE") && strconv.FormatFloat(f, 'f', -1, 64) != s {
		return 0, fmt.Errorf("integer %s cannot be stored exactly", s)
	}
	return f, nil
}

func encodeValue(v *structpb.Value) (json.RawMessage, error) {
	if v == nil {
		return jsonNull, nil
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}
