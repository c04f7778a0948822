package joblog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

// maxLogFiles bounds how many files one collection pass will read.
const maxLogFiles = 50

// Two structured line grammars: the job logger's own pipe layout and the
// dash layout the engine's embedded tools produce.
var (
	rePipe = regexp.MustCompile(`^(.+?)\s*\|\s*(DEBUG|INFO|WARNING|ERROR|CRITICAL)\s*\|\s*([^|]+)\s*\|\s*(.*)$`)
	reDash = regexp.MustCompile(`^(.+?)\s*-\s*(DEBUG|INFO|WARNING|ERROR|CRITICAL)\s*-\s*(.*)$`)
)

const rawHintLayout = "2006-01-02T15:04:05"

// Collect scans every log file in logDir and groups parsed lines by level.
// Structured lines are parsed against the two grammars; CRITICAL folds into
// the error bucket alongside ERROR. Raw lines mentioning "error" or "warning"
// are promoted to entries of that level, and anything else is glued onto the
// preceding entry of the same file as a continuation. An unreadable file
// yields a single synthetic ERROR entry and collection moves on.
func Collect(logDir string) types.LogsByLevel {
	out := types.LogsByLevel{
		Info:    []types.LogEntry{},
		Warning: []types.LogEntry{},
		Error:   []types.LogEntry{},
	}

	info, err := os.Stat(logDir)
	if err != nil || !info.IsDir() {
		return out
	}

	files := listLogFiles(logDir)
	if len(files) == 0 {
		out.Note = "No log files found"
		return out
	}
	if len(files) > maxLogFiles {
		files = files[:maxLogFiles]
	}

	for _, f := range files {
		collectFile(f, &out)
	}
	return out
}

// FilterByLevel narrows a collected view to a single bucket. The note is
// preserved so an empty filtered view still explains itself.
func FilterByLevel(all types.LogsByLevel, level types.LogLevelFilter) types.LogsByLevel {
	switch level {
	case types.LogFilterInfo:
		return types.LogsByLevel{Info: all.Info, Warning: []types.LogEntry{}, Error: []types.LogEntry{}, Note: all.Note}
	case types.LogFilterWarning:
		return types.LogsByLevel{Info: []types.LogEntry{}, Warning: all.Warning, Error: []types.LogEntry{}, Note: all.Note}
	case types.LogFilterError:
		return types.LogsByLevel{Info: []types.LogEntry{}, Warning: []types.LogEntry{}, Error: all.Error, Note: all.Note}
	default:
		return all
	}
}

type logFile struct {
	path  string
	mtime time.Time
}

func listLogFiles(logDir string) []logFile {
	var files []logFile
	for _, pattern := range []string{"*.txt", "*.log"} {
		matches, _ := filepath.Glob(filepath.Join(logDir, pattern))
		for _, p := range matches {
			f := logFile{path: p}
			if info, err := os.Stat(p); err == nil {
				f.mtime = info.ModTime()
			}
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	return files
}

func collectFile(f logFile, out *types.LogsByLevel) {
	file, err := os.Open(f.path)
	if err != nil {
		out.Error = append(out.Error, readFailure(f.path, err))
		return
	}
	defer file.Close()

	name := filepath.Base(f.path)
	hint := f.mtime.Format(rawHintLayout)

	// last tracks the bucket that received the file's most recent entry so
	// continuation lines can be appended to it. Continuations never cross
	// file boundaries.
	var last *[]types.LogEntry
	add := func(bucket *[]types.LogEntry, e types.LogEntry) {
		*bucket = append(*bucket, e)
		last = bucket
	}
	addLeveled := func(e types.LogEntry) {
		switch e.Level {
		case "ERROR", "CRITICAL":
			add(&out.Error, e)
		case "WARNING":
			add(&out.Warning, e)
		default:
			add(&out.Info, e)
		}
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := rePipe.FindStringSubmatch(line); m != nil {
			addLeveled(types.LogEntry{
				Timestamp: strings.TrimSpace(m[1]),
				Level:     m[2],
				Source:    strings.TrimSpace(m[3]),
				Message:   m[4],
				File:      name,
			})
			continue
		}
		if m := reDash.FindStringSubmatch(line); m != nil {
			addLeveled(types.LogEntry{
				Timestamp: strings.TrimSpace(m[1]),
				Level:     m[2],
				Message:   m[3],
				File:      name,
			})
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}

		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error"):
			add(&out.Error, types.LogEntry{Timestamp: hint, Level: "ERROR", Source: "raw", Message: line, File: name})
		case strings.Contains(lower, "warning"):
			add(&out.Warning, types.LogEntry{Timestamp: hint, Level: "WARNING", Source: "raw", Message: line, File: name})
		default:
			if last != nil {
				entries := *last
				entries[len(entries)-1].Message += "\n" + line
			} else {
				add(&out.Info, types.LogEntry{Timestamp: hint, Level: "INFO", Source: "raw", Message: line, File: name})
			}
		}
	}

	if err := scanner.Err(); err != nil {
		out.Error = append(out.Error, readFailure(f.path, err))
	}
}

func readFailure(path string, err error) types.LogEntry {
	name := filepath.Base(path)
	return types.LogEntry{
		Timestamp: time.Now().Format(rawHintLayout),
		Level:     "ERROR",
		Source:    "log.reader",
		Message:   fmt.Sprintf("Failed reading %s: %v", name, err),
		File:      name,
	}
}
