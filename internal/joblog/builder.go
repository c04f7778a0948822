// Package joblog builds per-job log files, watches them for fail-fast error
// conditions and classifies their contents back into leveled views.
package joblog

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogDirName is the per-job log directory under the job's output dir.
const LogDirName = "logs"

// JobLogger writes a job's pipe-delimited log file and feeds every event to
// the attached fail-fast Watcher. Path is the active log file; the processing
// engine appends its own output to the same file.
type JobLogger struct {
	*zap.SugaredLogger
	Watcher *Watcher
	Path    string
	file    *os.File
}

// New creates the job's log directory under outputDir, opens a fresh
// timestamped log file and returns a logger writing to it. Lines use the
// `ts | LEVEL | source | message` layout that Collect parses back.
func New(jobID, outputDir string) (*JobLogger, error) {
	logDir := filepath.Join(outputDir, LogDirName)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(logDir, time.Now().Format("log_20060102_150405.txt"))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nil, err
	}

	watcher := NewWatcher(path)
	fileCore := zapcore.NewCore(newLineEncoder(), zapcore.AddSync(file), zap.InfoLevel)
	logger := zap.New(zapcore.NewTee(fileCore, watcher.Core())).Named("mapsrv.job").Named(jobID)

	return &JobLogger{
		SugaredLogger: logger.Sugar(),
		Watcher:       watcher,
		Path:          path,
		file:          file,
	}, nil
}

// Close flushes and closes the underlying log file.
func (l *JobLogger) Close() error {
	_ = l.Desugar().Sync()
	return l.file.Close()
}

func newLineEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " | ",
		EncodeTime:       lineTimeEncoder,
		EncodeLevel:      lineLevelEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
	}
	return zapcore.NewConsoleEncoder(cfg)
}

func lineTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05,000"))
}

// lineLevelEncoder spells levels the way Collect parses them back; zap's own
// encoders abbreviate WARN and have no CRITICAL.
func lineLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	default:
		enc.AppendString("CRITICAL")
	}
}
