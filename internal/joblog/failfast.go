package joblog

import (
	"os"
	"regexp"
	"sync"

	"go.uber.org/zap/zapcore"
)

// Patterns the processing engine emits when a geoprocessing tool fails. The
// engine writes these straight into the log file, so they can show up both as
// logger events and as raw file content.
var (
	reEngineError = regexp.MustCompile(`(?im)^\s*(?:\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d{3,6})?\s*)?ERROR\s+\d{3,6}\s*:\s*\S`)
	reToolFailed  = regexp.MustCompile(`(?im)^\s*Failed to execute\s*\([^)]+\)\.\s*$`)
	reErrorWord   = regexp.MustCompile(`(?i)\berror\b`)
)

// Watcher latches the first error seen on a job's logger or in its log file.
// One Watcher per job; once latched it stays latched for the job's lifetime
// and the first message wins.
type Watcher struct {
	mu      sync.Mutex
	logFile string
	msg     string
}

// NewWatcher returns a clean watcher. logFile is the job's active log file,
// re-read by ScanFileOnce; pass "" to disable file scanning.
func NewWatcher(logFile string) *Watcher {
	return &Watcher{logFile: logFile}
}

// Latched reports whether an error has been detected.
func (w *Watcher) Latched() bool {
	return w.ErrorMessage() != ""
}

// ErrorMessage returns the first detected error message, or "" while clean.
func (w *Watcher) ErrorMessage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.msg
}

func (w *Watcher) latch(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.msg == "" {
		w.msg = msg
	}
}

func (w *Watcher) observe(level zapcore.Level, msg string) {
	if level >= zapcore.ErrorLevel || reEngineError.MatchString(msg) || reToolFailed.MatchString(msg) {
		w.latch(msg)
	}
}

// ScanFileOnce re-reads the active log file and latches if it contains an
// engine error pattern or a bare occurrence of the word "error". The engine
// writes through channels the logger never sees, so live events alone are not
// enough. Idempotent; read failures are swallowed, a file that cannot be read
// right now is not itself an error signal.
func (w *Watcher) ScanFileOnce() {
	if w.logFile == "" {
		return
	}
	data, err := os.ReadFile(w.logFile)
	if err != nil {
		return
	}
	if reEngineError.Match(data) || reToolFailed.Match(data) || reErrorWord.Match(data) {
		w.latch("Error detected in log file")
	}
}

// Core returns a zapcore.Core that feeds logger events into the watcher,
// meant to be teed under the job logger.
func (w *Watcher) Core() zapcore.Core {
	return &watcherCore{LevelEnabler: zapcore.InfoLevel, w: w}
}

type watcherCore struct {
	zapcore.LevelEnabler
	w *Watcher
}

func (c *watcherCore) With(_ []zapcore.Field) zapcore.Core { return c }

func (c *watcherCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *watcherCore) Write(ent zapcore.Entry, _ []zapcore.Field) error {
	c.w.observe(ent.Level, ent.Message)
	return nil
}

func (c *watcherCore) Sync() error { return nil }
