// Package logging provides structured logging for the nvmehost driver core.
package logging

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with nvmehost-specific structured fields.
type Logger struct {
	zlog   zerolog.Logger
	ctrlID *uint32
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = LogLevel(zerolog.DebugLevel)
	LevelInfo  LogLevel = LogLevel(zerolog.InfoLevel)
	LevelWarn  LogLevel = LogLevel(zerolog.WarnLevel)
	LevelError LogLevel = LogLevel(zerolog.ErrorLevel)
)

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"
	Output  io.Writer
	Sync    bool // If true, writes are synchronous (useful for testing)
	NoColor bool // If true, disables ANSI color codes (useful for testing)
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// asyncWriter wraps an io.Writer with a buffered channel so that logging
// from the driver's single event loop never blocks on I/O.
type asyncWriter struct {
	out    io.Writer
	ch     chan []byte
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

func newAsyncWriter(w io.Writer, bufferSize int) *asyncWriter {
	aw := &asyncWriter{
		out:  w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for msg := range aw.ch {
		aw.out.Write(msg)
	}
}

func (aw *asyncWriter) Write(p []byte) (n int, err error) {
	aw.mu.Lock()
	if aw.closed {
		aw.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	aw.mu.Unlock()

	msg := make([]byte, len(p))
	copy(msg, p)

	select {
	case aw.ch <- msg:
		return len(p), nil
	default:
		// Buffer full - drop rather than block the event loop.
		return len(p), nil
	}
}

func (aw *asyncWriter) Close() error {
	aw.mu.Lock()
	if !aw.closed {
		aw.closed = true
		close(aw.ch)
	}
	aw.mu.Unlock()
	<-aw.done
	return nil
}

// NewLogger creates a new structured logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = config.Output
	if !config.Sync {
		output = newAsyncWriter(config.Output, 1000)
	}

	var zlog zerolog.Logger
	switch config.Format {
	case "json":
		zlog = zerolog.New(output).With().Timestamp().Logger()
	default:
		consoleWriter := zerolog.ConsoleWriter{Out: output, NoColor: config.NoColor}
		zlog = zerolog.New(consoleWriter).With().Timestamp().Logger()
	}

	zlog = zlog.Level(zerolog.Level(config.Level))

	return &Logger{zlog: zlog}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithController returns a logger with controller ID context.
func (l *Logger) WithController(ctrlID uint32) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint32("ctrl_id", ctrlID).Logger(),
		ctrlID: &ctrlID,
	}
}

// WithNamespace returns a logger with namespace ID context.
func (l *Logger) WithNamespace(nsid uint32) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint32("nsid", nsid).Logger(),
		ctrlID: l.ctrlID,
	}
}

// WithQueue returns a logger with queue id context.
func (l *Logger) WithQueue(qid uint16) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint16("qid", qid).Logger(),
		ctrlID: l.ctrlID,
	}
}

// WithCommand returns a logger with command identifier and opcode context.
func (l *Logger) WithCommand(cid uint16, opcode string) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Uint16("cid", cid).Str("opcode", opcode).Logger(),
		ctrlID: l.ctrlID,
	}
}

// WithError returns a logger with error context.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		zlog:   l.zlog.With().Err(err).Logger(),
		ctrlID: l.ctrlID,
	}
}

func withArgs(event *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if key, ok := args[i].(string); ok {
				event = event.Interface(key, args[i+1])
			}
		}
	}
	return event
}

func (l *Logger) Debug(msg string, args ...any) { withArgs(l.zlog.Debug(), args).Msg(msg) }
func (l *Logger) Info(msg string, args ...any)  { withArgs(l.zlog.Info(), args).Msg(msg) }
func (l *Logger) Warn(msg string, args ...any)  { withArgs(l.zlog.Warn(), args).Msg(msg) }
func (l *Logger) Error(msg string, args ...any) { withArgs(l.zlog.Error(), args).Msg(msg) }

func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) { l.Debug(msg, args...) }
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any)  { l.Info(msg, args...) }
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any)  { l.Warn(msg, args...) }
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) { l.Error(msg, args...) }

func (l *Logger) Debugf(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zlog.Error().Msgf(format, args...) }

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// AdminStart logs the start of an admin command.
func (l *Logger) AdminStart(op string) {
	l.Info("admin command starting", "operation", op)
}

// AdminSuccess logs a successful admin command completion.
func (l *Logger) AdminSuccess(op string) {
	l.Info("admin command succeeded", "operation", op)
}

// AdminError logs a failed admin command.
func (l *Logger) AdminError(op string, err error) {
	l.WithError(err).Error("admin command failed", "operation", op)
}

// IOStart logs the start of a namespace I/O operation.
func (l *Logger) IOStart(op string, slba uint64, nlb uint16) {
	l.Debug("I/O operation starting", "op", op, "slba", slba, "nlb", nlb)
}

// IOComplete logs a completed namespace I/O operation.
func (l *Logger) IOComplete(op string, slba uint64, nlb uint16, latencyUs int64) {
	l.Debug("I/O operation completed", "op", op, "slba", slba, "nlb", nlb, "latency_us", latencyUs)
}

// IOError logs a failed namespace I/O operation.
func (l *Logger) IOError(op string, slba uint64, nlb uint16, err error) {
	l.WithError(err).Error("I/O operation failed", "op", op, "slba", slba, "nlb", nlb)
}
