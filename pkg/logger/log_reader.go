package logger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LogEntry is one decoded line of a category log
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Category  string                 `json:"category"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// ParseLogLine decodes a MultiLogger JSON line. Lines that are not JSON are kept as plain messages.
func ParseLogLine(category LogCategory, line string) LogEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{Level: "info", Message: line, Category: string(category)}
	}

	entry := LogEntry{Category: string(category)}
	entry.Timestamp, _ = raw["ts"].(string)
	entry.Level, _ = raw["level"].(string)
	entry.Message, _ = raw["msg"].(string)
	delete(raw, "ts")
	delete(raw, "level")
	delete(raw, "msg")
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry
}

// Matches reports whether the entry's message, level or any field value contains query
func (e LogEntry) Matches(query string) bool {
	query = strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.Message), query) || strings.Contains(strings.ToLower(e.Level), query) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

// LogReader reads and follows the files written by MultiLogger
type LogReader struct {
	logsDir      string
	pollInterval time.Duration
}

// NewLogReader creates a new log reader
func NewLogReader(logsDir string) *LogReader {
	return &LogReader{logsDir: logsDir, pollInterval: 200 * time.Millisecond}
}

// GetLogPath returns the path to a category log file for a specific date
func (lr *LogReader) GetLogPath(category LogCategory, date time.Time) string {
	return filepath.Join(lr.logsDir, LogFileName(category, date))
}

// ReadLogs returns the last limit entries of a day's log, or all of them when limit <= 0.
// A missing file yields no entries.
func (lr *LogReader) ReadLogs(category LogCategory, date time.Time, limit int) ([]LogEntry, error) {
	return lr.collect(category, date, limit, nil)
}

// SearchLogs returns the last limit entries matching query
func (lr *LogReader) SearchLogs(category LogCategory, date time.Time, query string, limit int) ([]LogEntry, error) {
	return lr.collect(category, date, limit, func(e LogEntry) bool { return e.Matches(query) })
}

func (lr *LogReader) collect(category LogCategory, date time.Time, limit int, keep func(LogEntry) bool) ([]LogEntry, error) {
	file, err := os.Open(lr.GetLogPath(category, date))
	if err != nil {
		if os.IsNotExist(err) {
			return []LogEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	entries := []LogEntry{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry := ParseLogLine(category, line)
		if keep != nil && !keep(entry) {
			continue
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// TailLogs follows today's log of a category from its current end, sending new
// entries until ctx is done. It waits for the file to appear.
func (lr *LogReader) TailLogs(ctx context.Context, category LogCategory, entries chan<- LogEntry) error {
	ticker := time.NewTicker(lr.pollInterval)
	defer ticker.Stop()

	var file *os.File
	for file == nil {
		f, err := os.Open(lr.GetLogPath(category, time.Now()))
		switch {
		case err == nil:
			file = f
		case !os.IsNotExist(err):
			return err
		default:
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	reader := bufio.NewReader(file)
	var partial string
	for {
		line, err := reader.ReadString('\n')
		partial += line
		if errors.Is(err, io.EOF) {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if err != nil {
			return err
		}

		text := strings.TrimSpace(partial)
		partial = ""
		if text == "" {
			continue
		}
		select {
		case entries <- ParseLogLine(category, text):
		case <-ctx.Done():
			return nil
		}
	}
}
