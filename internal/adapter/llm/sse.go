package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"teacher-agent/internal/domain"
)

// maxSSELine bounds a single SSE data line.
const maxSSELine = 4 * 1024 * 1024

// parseSSEStream reads SSE lines from body and converts each data payload into
// a StreamDelta with parseLine. The channel closes when the stream ends, the
// body fails or ctx is cancelled. A read failure is delivered as a final
// delta carrying Err.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			if !bytes.HasPrefix(line, []byte("data:")) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))

			if bytes.Equal(data, []byte("[DONE]")) {
				select {
				case ch <- domain.StreamDelta{Done: true}:
				case <-ctx.Done():
				}
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}

			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}
			if delta.Done {
				return
			}
		}

		final := domain.StreamDelta{Done: true}
		if err := scanner.Err(); err != nil {
			final.Err = fmt.Errorf("%w: read stream: %v", domain.ErrOracleFailure, err)
		}
		select {
		case ch <- final:
		case <-ctx.Done():
		}
	}()
	return ch
}
