package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

// maxMessageBytes bounds a single newline-delimited message.
const maxMessageBytes = 16 * 1024 * 1024

// Serve reads newline-delimited requests from r and writes one response line
// per request to w until r reaches EOF or ctx is cancelled. Requests are
// answered in arrival order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxMessageBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			msg := make([]byte, len(line))
			copy(msg, line)
			select {
			case lines <- msg:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	out := bufio.NewWriter(w)
	write := func(resp []byte) error {
		if _, err := out.Write(append(resp, '\n')); err != nil {
			return err
		}
		return out.Flush()
	}

	s.logger.Info("serving on stdio")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil && !errors.Is(err, io.EOF) {
						return fmt.Errorf("failed to read request: %w", err)
					}
				default:
				}
				s.logger.Info("stdin closed")
				return nil
			}
			resp := s.HandleMessage(ctx, msg)
			if resp == nil {
				continue
			}
			if err := write(resp); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}
