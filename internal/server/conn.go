package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/loganszeto/phoenixkv/internal/protocol"
)

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	logger := s.logger.With("conn", uuid.NewString(), "remote", c.RemoteAddr().String())
	s.stats.ConnOpened()
	defer s.stats.ConnClosed()
	defer c.Close()
	defer func() {
		if p := recover(); p != nil {
			s.stats.RecordError()
			logger.Error("connection handler panicked", "panic", p)
		}
	}()

	logger.Debug("client connected")
	err := s.serveConn(ctx, c)
	switch {
	case err == nil:
		logger.Debug("client disconnected")
	case errors.Is(err, os.ErrDeadlineExceeded):
		logger.Debug("idle timeout", "timeout", s.idleTimeout)
	default:
		logger.Warn("connection closed", "err", err)
	}
}

// serveConn treats every Read as exactly one request. There is no length
// prefix or delimiter, so a request split across segments, or two requests
// landing in one Read, fail to decode and close the connection.
func (s *Server) serveConn(ctx context.Context, c net.Conn) error {
	buf := make([]byte, s.readBuf)
	for {
		if s.idleTimeout > 0 {
			if err := c.SetReadDeadline(time.Now().Add(s.idleTimeout)); err != nil {
				return fmt.Errorf("set deadline: %w", err)
			}
		}
		n, err := c.Read(buf)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				_ = s.writeResponse(c, protocol.Errorf("read failed: %s", err))
			}
			return fmt.Errorf("read: %w", err)
		}

		var resp protocol.Response
		cmd, err := protocol.DecodeCommand(buf[:n])
		switch {
		case errors.Is(err, protocol.ErrInvalidArgument):
			s.stats.RecordError()
			resp = protocol.Errorf("%s", err)
		case err != nil:
			s.stats.RecordError()
			_ = s.writeResponse(c, protocol.Errorf("%s", err))
			return fmt.Errorf("decode: %w", err)
		default:
			resp = s.d.Dispatch(ctx, cmd)
		}
		if err := s.writeResponse(c, resp); err != nil {
			return err
		}
	}
}

func (s *Server) writeResponse(c net.Conn, resp protocol.Response) error {
	b, err := protocol.EncodeResponse(resp)
	if err != nil {
		fallback, _ := protocol.EncodeResponse(protocol.Errorf("encode response: %s", err))
		_, _ = c.Write(fallback)
		return fmt.Errorf("encode: %w", err)
	}
	if _, err := c.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
