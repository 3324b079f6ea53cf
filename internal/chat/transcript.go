package chat

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultTranscriptQueue is the event queue size when none is configured.
const defaultTranscriptQueue = 256

// TranscriptSink receives conversation events. The zero-cost NopTranscript
// stands in when transcript logging is disabled.
type TranscriptSink interface {
	Log(event TranscriptEvent)
	Close() error
}

// TranscriptConfig controls the NDJSON transcript writer.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// TranscriptEvent is one NDJSON line in a session transcript.
type TranscriptEvent struct {
	Timestamp  string         `json:"timestamp"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// TranscriptLogger appends conversation events to per-session NDJSON files
// under dir/<user>/<session>.ndjson. Writes go through an async queue; a full
// queue drops events (counted) rather than blocking the request path.
type TranscriptLogger struct {
	enabled bool
	dir     string
	queue   chan TranscriptEvent
	done    chan struct{}
	mu      sync.RWMutex
	closing bool
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewTranscriptLogger creates the transcript writer and starts its drain
// goroutine. With Enabled false the returned logger accepts and discards
// events.
func NewTranscriptLogger(cfg TranscriptConfig, logger *slog.Logger) (*TranscriptLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TranscriptLogger{
		enabled: cfg.Enabled,
		dir:     cfg.Dir,
		done:    make(chan struct{}),
		logger:  logger,
	}
	if !cfg.Enabled {
		close(t.done)
		return t, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("transcript logging enabled without a directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = defaultTranscriptQueue
	}
	t.queue = make(chan TranscriptEvent, size)
	go t.drain()
	return t, nil
}

// Log enqueues one event. Missing timestamp and cleaned content are filled
// in here so callers only supply the raw payload.
func (t *TranscriptLogger) Log(event TranscriptEvent) {
	if !t.enabled {
		return
	}
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closing {
		return
	}
	select {
	case t.queue <- event:
	default:
		if n := t.dropped.Add(1); n == 1 || n%100 == 0 {
			t.logger.Warn("Transcript queue full, dropping events", "dropped_total", n)
		}
	}
}

// Dropped returns how many events were discarded due to a full queue.
func (t *TranscriptLogger) Dropped() int64 {
	return t.dropped.Load()
}

// Close stops accepting events, flushes the queue, and waits for the drain
// goroutine to finish.
func (t *TranscriptLogger) Close() error {
	if !t.enabled {
		<-t.done
		return nil
	}
	t.mu.Lock()
	if !t.closing {
		t.closing = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
	return nil
}

func (t *TranscriptLogger) drain() {
	defer close(t.done)
	for event := range t.queue {
		if err := t.write(event); err != nil {
			t.logger.Warn("Transcript write failed",
				"user_id", event.UserID, "session_id", event.SessionID, "error", err)
		}
	}
}

// write appends one NDJSON line. Files open per write; transcript volume is
// one line per chat turn, so holding descriptors open buys nothing.
func (t *TranscriptLogger) write(event TranscriptEvent) error {
	userDir := filepath.Join(t.dir, sanitizePathComponent(event.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(userDir, sanitizePathComponent(event.SessionID)+".ndjson")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			t.logger.Warn("Failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = f.Write(line)
	return err
}

// sanitizePathComponent keeps user and session IDs from escaping the
// transcript directory.
func sanitizePathComponent(s string) string {
	s = strings.ReplaceAll(s, string(filepath.Separator), "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		return "unknown"
	}
	return s
}

var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// cleanForReadability strips terminal escape sequences and control characters
// so transcripts stay greppable.
func cleanForReadability(s string) string {
	s = ansiEscapePattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// NopTranscript discards every event.
type NopTranscript struct{}

func (NopTranscript) Log(TranscriptEvent) {}
func (NopTranscript) Close() error        { return nil }
