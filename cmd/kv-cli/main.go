package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/loganszeto/phoenixkv/internal/client"
	"github.com/loganszeto/phoenixkv/internal/gateway"
	"github.com/loganszeto/phoenixkv/internal/protocol"
)

type doer interface {
	Do(ctx context.Context, cmd protocol.Command) (protocol.Response, error)
}

const usage = `commands:
  INSERT <key> <value> [ttl]
  LOOKUP <key>
  DELETE <key>
  INSERT * <key> <value> [<key> <value> ...]
  LOOKUP * <key> [<key> ...]
  DELETE * <key> [<key> ...]
  {"name": ...}    raw JSON request
  QUIT`

func main() {
	addr := flag.String("addr", "127.0.0.1:6969", "server address")
	rpcURL := flag.String("rpc", "", "use the HTTP gateway at this base URL instead of TCP")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	var c doer
	if *rpcURL != "" {
		c = gateway.NewRPCClient(http.DefaultClient, strings.TrimSuffix(*rpcURL, "/"))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		tcp, err := client.Dial(ctx, *addr)
		cancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect: %v\n", err)
			os.Exit(1)
		}
		defer tcp.Close()
		c = tcp
	}

	if flag.NArg() > 0 {
		if err := runLine(c, strings.Join(flag.Args(), " "), *timeout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "QUIT") || strings.EqualFold(line, "EXIT") {
			return
		}
		if strings.EqualFold(line, "HELP") {
			fmt.Println(usage)
			continue
		}
		if err := runLine(c, line, *timeout); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func runLine(c doer, line string, timeout time.Duration) error {
	cmd, err := parseLine(line)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := c.Do(ctx, cmd)
	if err != nil {
		return err
	}
	b, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// parseLine turns one line of shell-style input into a Command. Values that
// parse as JSON are sent as such; anything else is a string.
func parseLine(line string) (protocol.Command, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		return protocol.DecodeCommand([]byte(line))
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return protocol.Command{}, errors.New("empty command")
	}
	name, args := fields[0], fields[1:]
	if len(args) > 0 && args[0] == "*" {
		name, args = name+" *", args[1:]
	}
	op, err := protocol.ParseOp(name)
	if err != nil {
		return protocol.Command{}, err
	}

	cmd := protocol.Command{Name: op.String()}
	switch op {
	case protocol.OpInsert:
		if len(args) < 2 || len(args) > 3 {
			return cmd, errors.New("usage: INSERT <key> <value> [ttl]")
		}
		cmd.Keys = []string{args[0]}
		cmd.Values = []*structpb.Value{parseValue(args[1])}
		if len(args) == 3 {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return cmd, fmt.Errorf("ttl: %w", err)
			}
			cmd.TTLs = []time.Duration{ttl}
		}
	case protocol.OpLookup, protocol.OpDelete:
		if len(args) != 1 {
			return cmd, fmt.Errorf("usage: %s <key>", op)
		}
		cmd.Keys = args
	case protocol.OpInsertMany:
		if len(args) == 0 || len(args)%2 != 0 {
			return cmd, errors.New("usage: INSERT * <key> <value> [<key> <value> ...]")
		}
		for i := 0; i < len(args); i += 2 {
			cmd.Keys = append(cmd.Keys, args[i])
			cmd.Values = append(cmd.Values, parseValue(args[i+1]))
		}
	case protocol.OpLookupMany, protocol.OpDeleteMany:
		if len(args) == 0 {
			return cmd, fmt.Errorf("usage: %s <key> [<key> ...]", op)
		}
		cmd.Keys = args
	}
	return cmd, nil
}

func parseValue(s string) *structpb.Value {
	var raw any
	if err := json.Unmarshal([]byte(s), &raw); err == nil && raw != nil {
		if v, err := structpb.NewValue(raw); err == nil {
			return v
		}
	}
	return structpb.NewStringValue(s)
}
