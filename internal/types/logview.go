package types

// LogEntry is one classified line (plus merged continuations) from a job's
// log directory. Entries are rebuilt on every query, never persisted.
type LogEntry struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Source    string `json:"source"`
	Message   string `json:"msg"`
	File      string `json:"file"`
}

// LogsByLevel is the leveled view of a job's logs. Note explains degraded
// collection (e.g. no log files yet); it is informational, not an error.
type LogsByLevel struct {
	Info    []LogEntry `json:"info"`
	Warning []LogEntry `json:"warning"`
	Error   []LogEntry `json:"error"`
	Note    string     `json:"note,omitempty"`
}

// LogLevelFilter selects one bucket of a LogsByLevel view.
type LogLevelFilter string

const (
	LogFilterAll     LogLevelFilter = "all"
	LogFilterInfo    LogLevelFilter = "info"
	LogFilterWarning LogLevelFilter = "warning"
	LogFilterError   LogLevelFilter = "error"
)

// Valid reports whether f is one of the accepted filter values.
func (f LogLevelFilter) Valid() bool {
	switch f {
	case LogFilterAll, LogFilterInfo, LogFilterWarning, LogFilterError:
		return true
	}
	return false
}
