package infrastructure

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/yourusername/hqmx-go/internal/domain"
)

// maxEventSize bounds a single server-sent event line
const maxEventSize = 1 << 20

// sseStream decodes a text/event-stream body into job messages, one event at a time
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	closeOnce sync.Once
	closeErr  error
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &sseStream{body: body, scanner: scanner}
}

// Next returns the next message event. Comments, retry hints and events with no
// data are skipped. io.EOF is returned when the server closes the stream.
func (s *sseStream) Next() (*domain.JobMessage, error) {
	for {
		data, err := s.readEvent()
		if err != nil {
			return nil, err
		}
		if data == "" {
			continue
		}

		var msg domain.JobMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode progress event: %w", err)
		}
		return &msg, nil
	}
}

// readEvent collects the data lines of one event, terminated by a blank line
func (s *sseStream) readEvent() (string, error) {
	var data []string
	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")
		if line == "" {
			if len(data) > 0 {
				return strings.Join(data, "\n"), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	if len(data) > 0 {
		// Stream ended without the trailing blank line
		return strings.Join(data, "\n"), nil
	}
	return "", io.EOF
}

// Close releases the underlying connection
func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
