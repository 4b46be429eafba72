package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// TranscriptEvent is one line of an agent run transcript.
type TranscriptEvent struct {
	Time       time.Time `json:"ts"`
	ThreadID   string    `json:"thread_id"`
	UserID     string    `json:"user_id,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name,omitempty"`
	Content    string    `json:"content"`
	ContentRaw string    `json:"content_raw,omitempty"`
}

// TranscriptLogger records agent runs for later inspection.
type TranscriptLogger interface {
	Log(evt TranscriptEvent)
	Close() error
}

// TranscriptLogConfig configures NewTranscriptLogger.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopTranscriptLogger struct{}

func (noopTranscriptLogger) Log(TranscriptEvent) {}
func (noopTranscriptLogger) Close() error        { return nil }

// NewTranscriptLogger writes one NDJSON file per thread under Dir/<user>/.
// Events are written asynchronously and dropped when the queue is full.
func NewTranscriptLogger(cfg TranscriptLogConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return noopTranscriptLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &fileTranscriptLogger{
		dir:    cfg.Dir,
		queue:  make(chan TranscriptEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.loop()
	return l, nil
}

type fileTranscriptLogger struct {
	dir    string
	queue  chan TranscriptEvent
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func (l *fileTranscriptLogger) Log(evt TranscriptEvent) {
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	if evt.Content == "" {
		evt.Content = cleanForReadability(evt.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- evt:
	default:
		l.logger.Warn("Transcript queue full, dropping event", "thread_id", evt.ThreadID, "kind", evt.Kind)
	}
}

func (l *fileTranscriptLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *fileTranscriptLogger) loop() {
	defer close(l.done)
	for evt := range l.queue {
		if err := l.write(evt); err != nil {
			l.logger.Warn("Failed to write transcript event", "error", err, "thread_id", evt.ThreadID)
		}
	}
}

func (l *fileTranscriptLogger) write(evt TranscriptEvent) error {
	user := safeName(evt.UserID)
	if user == "" {
		user = "anonymous"
	}
	thread := safeName(evt.ThreadID)
	if thread == "" {
		thread = "unknown"
	}

	dir := filepath.Join(l.dir, user)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, thread+".ndjson"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(evt)
}

// safeName keeps a path component from escaping the transcript dir.
func safeName(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(s)
	return strings.TrimSpace(s)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)

// cleanForReadability strips terminal escape sequences and carriage returns.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}
