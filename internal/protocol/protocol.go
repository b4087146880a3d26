package protocol

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrInvalidRequest covers bytes that are not a request at all.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidArgument covers a well-formed request carrying a value or
	// ttl that cannot be stored. The connection stays usable.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidResponse = errors.New("invalid response")
	ErrUnknownCommand  = errors.New("unknown command")
)

// Op is the closed set of commands the dispatcher understands.
type Op int

const (
	OpInsert Op = iota
	OpLookup
	OpDelete
	OpInsertMany
	OpLookupMany
	OpDeleteMany
)

var opNames = [...]string{
	OpInsert:     "INSERT",
	OpLookup:     "LOOKUP",
	OpDelete:     "DELETE",
	OpInsertMany: "INSERT *",
	OpLookupMany: "LOOKUP *",
	OpDeleteMany: "DELETE *",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("Op(%d)", int(o))
	}
	return opNames[o]
}

// Bulk reports whether o is one of the "*" variants.
func (o Op) Bulk() bool {
	return o == OpInsertMany || o == OpLookupMany || o == OpDeleteMany
}

// ParseOp matches name case-insensitively, ASCII only. Runs of whitespace
// count as one space, so "insert  *" is INSERT *.
func ParseOp(name string) (Op, error) {
	if isASCII(name) {
		norm := strings.Join(strings.Fields(name), " ")
		for i, n := range opNames {
			if strings.EqualFold(n, norm) {
				return Op(i), nil
			}
		}
	}
	return 0, fmt.Errorf("%w '%s'", ErrUnknownCommand, name)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// Command is one decoded request. Within Values a nil means the value was
// absent; a zero TTL means no expiry.
type Command struct {
	Name string
	Keys []string
	// NullKeys lists positions in Keys that arrived as null. Those keys are
	// missing; an empty string is an ordinary key.
	NullKeys []int
	Values   []*structpb.Value
	TTLs     []time.Duration
}

// KeyAt returns the key at position i and whether one was supplied.
func (c Command) KeyAt(i int) (string, bool) {
	if i < 0 || i >= len(c.Keys) || slices.Contains(c.NullKeys, i) {
		return "", false
	}
	return c.Keys[i], true
}

type Action string

const (
	ActionCommand Action = "Command"
	ActionError   Action = "Error"
)

type Response struct {
	Action Action
	Value  *structpb.Value
	Err    string
}

func OK() Response {
	return Response{Action: ActionCommand, Value: structpb.NewStringValue("OK")}
}

// Found wraps a lookup result. A nil v is a miss, which is not an error.
func Found(v *structpb.Value) Response {
	return Response{Action: ActionCommand, Value: v}
}

func Errorf(format string, args ...any) Response {
	return Response{Action: ActionError, Err: fmt.Sprintf(format, args...)}
}

func (r Response) IsError() bool {
	return r.Action == ActionError
}
