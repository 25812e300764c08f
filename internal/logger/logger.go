package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color" // Colored console output per log level
	"github.com/spf13/afero"
)

// Logger writes every message to three sinks: the console (colored by level),
// a persistent log file, and an in-memory transcript that the status report
// embeds. The file and the transcript receive identical plain text.
type Logger struct {
	mu         sync.Mutex
	console    io.Writer
	file       afero.File
	path       string
	transcript bytes.Buffer
	debug      bool
	finalized  bool

	info  *color.Color
	warn  *color.Color
	error *color.Color
	dbg   *color.Color
}

// New returns a Logger writing to console only. Call OpenFile to attach the
// persistent log sink.
//
// Parameters:
// - console: destination for colored output, usually os.Stdout.
// - enableDebug: when false, Debug calls are dropped from every sink.
func New(console io.Writer, enableDebug bool) *Logger {
	if console == nil {
		console = io.Discard
	}
	return &Logger{
		console: console,
		debug:   enableDebug,
		info:    color.New(color.FgGreen),
		warn:    color.New(color.FgHiMagenta),
		error:   color.New(color.FgRed),
		dbg:     color.New(color.FgCyan),
	}
}

// FileName returns the timestamped log file name used for a run started at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("devdb-setup-%s.log", t.Format("20060102-150405"))
}

// OpenFile creates the timestamped log file inside dir on fs and starts
// mirroring output into it. It returns the absolute path of the file.
func (l *Logger) OpenFile(fs afero.Fs, dir string, started time.Time) (string, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create log directory %s: %w", dir, err)
	}
	path, err := filepath.Abs(filepath.Join(dir, FileName(started)))
	if err != nil {
		return "", err
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("open log file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.file = f
	l.path = path
	// Anything logged before the file existed still belongs in it.
	if l.transcript.Len() > 0 {
		_, _ = f.Write(l.transcript.Bytes())
	}
	return path, nil
}

// Info logs informational messages in green.
func (l *Logger) Info(format string, a ...any) { l.emit(l.info, "[INFO] ", format, a...) }

// Warn logs warnings in bright magenta.
func (l *Logger) Warn(format string, a ...any) { l.emit(l.warn, "[WARN] ", format, a...) }

// Error logs errors in red.
func (l *Logger) Error(format string, a ...any) { l.emit(l.error, "[ERROR] ", format, a...) }

// Debug logs debug messages in cyan when debug logging is enabled.
func (l *Logger) Debug(format string, a ...any) {
	if !l.debug {
		return
	}
	l.emit(l.dbg, "[DEBUG] ", format, a...)
}

func (l *Logger) emit(c *color.Color, prefix, format string, a ...any) {
	msg := prefix + fmt.Sprintf(format, a...)
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	c.Fprint(l.console, msg)
	l.record([]byte(msg))
}

// record appends plain text to the file and transcript sinks. Callers hold mu.
func (l *Logger) record(p []byte) {
	if l.finalized {
		return
	}
	l.transcript.Write(p)
	if l.file != nil {
		_, _ = l.file.Write(p)
	}
}

// Writer returns an io.Writer that copies raw bytes (no prefix, no color)
// to every sink. Subprocess stdout/stderr is attached to it so that command
// output is visible interactively and captured in the log at the same time.
func (l *Logger) Writer() io.Writer {
	return passthrough{l: l}
}

type passthrough struct{ l *Logger }

func (p passthrough) Write(b []byte) (int, error) {
	p.l.mu.Lock()
	defer p.l.mu.Unlock()
	if _, err := p.l.console.Write(b); err != nil {
		return 0, err
	}
	p.l.record(b)
	return len(b), nil
}

// Path returns the log file path, or "" when no file sink is attached.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Transcript returns everything recorded so far.
func (l *Logger) Transcript() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transcript.String()
}

// Finalize flushes and closes the file sink. After Finalize the transcript
// is frozen; later messages still reach the console.
func (l *Logger) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return nil
	}
	l.finalized = true
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}
