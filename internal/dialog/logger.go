package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/ashureev/bookspirit/internal/domain"
	"github.com/ashureev/bookspirit/internal/store"
)

// DialogLogger records completed exchanges. Log must not block the caller.
type DialogLogger interface {
	Log(entry domain.DialogEntry)
	Close() error
}

// LogConfig configures a StoreLogger.
type LogConfig struct {
	// QueueSize bounds the number of pending entries; extra entries are dropped.
	QueueSize int
	// WriteTimeout bounds each store write.
	WriteTimeout time.Duration
	// Dir, when set, also mirrors entries as NDJSON to Dir/<user>.ndjson.
	Dir string
}

const (
	defaultLogQueueSize    = 1000
	defaultLogWriteTimeout = 3 * time.Second
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// StoreLogger writes dialog entries asynchronously through a DialogWriter.
// Write failures are logged and never reach the reply path.
type StoreLogger struct {
	writer       store.DialogWriter
	dir          string
	writeTimeout time.Duration
	logger       *slog.Logger

	queue  chan domain.DialogEntry
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	fileMu sync.Mutex
}

// NewStoreLogger starts the background writer.
func NewStoreLogger(writer store.DialogWriter, cfg LogConfig, logger *slog.Logger) (*StoreLogger, error) {
	if writer == nil {
		return nil, errors.New("dialog logger: writer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultLogQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultLogWriteTimeout
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dialog log dir: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &StoreLogger{
		writer:       writer,
		dir:          cfg.Dir,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
		queue:        make(chan domain.DialogEntry, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}

	l.wg.Add(1)
	go l.worker()
	return l, nil
}

// Log enqueues entry. It drops the entry when the queue is full or the
// logger is closed.
func (l *StoreLogger) Log(entry domain.DialogEntry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.queue <- entry:
	default:
		l.logger.Warn("Dialog log queue full, dropping entry",
			"user_id", entry.UserID,
			"intent", entry.Intent,
		)
	}
}

// Close stops accepting entries and drains what is already queued.
func (l *StoreLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	l.cancel()
	return nil
}

func (l *StoreLogger) worker() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(entry)
	}
}

func (l *StoreLogger) write(entry domain.DialogEntry) {
	ctx, cancel := context.WithTimeout(l.ctx, l.writeTimeout)
	defer cancel()

	if err := l.writer.AppendDialogLog(ctx, &entry); err != nil {
		l.logger.Error("Failed to persist dialog entry",
			"user_id", entry.UserID,
			"intent", entry.Intent,
			"error", err,
		)
	}

	if l.dir != "" {
		if err := l.appendFile(entry); err != nil {
			l.logger.Warn("Failed to mirror dialog entry", "user_id", entry.UserID, "error", err)
		}
	}
}

func (l *StoreLogger) appendFile(entry domain.DialogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	f, err := os.OpenFile(filepath.Join(l.dir, logFileName(entry.UserID)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			l.logger.Warn("Failed to close dialog log file", "error", err)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}
	return nil
}

func logFileName(userID string) string {
	name := unsafeFileChars.ReplaceAllString(userID, "_")
	if name == "" || name == "." || name == ".." {
		name = anonymousCozeUserID
	}
	return name + ".ndjson"
}

// NoopLogger discards every entry.
type NoopLogger struct{}

// Log implements DialogLogger.
func (NoopLogger) Log(domain.DialogEntry) {}

// Close implements DialogLogger.
func (NoopLogger) Close() error { return nil }

var (
	_ DialogLogger = (*StoreLogger)(nil)
	_ DialogLogger = NoopLogger{}
)
