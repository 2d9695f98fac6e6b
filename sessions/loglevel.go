package sessions

import "fmt"

// LogLevel is an RFC 5424 severity. The ordinal scale runs
// debug < info < notice < warning < error < critical < alert < emergency.
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

var logLevelOrdinals = map[LogLevel]int{
	LogLevelDebug:     0,
	LogLevelInfo:      1,
	LogLevelNotice:    2,
	LogLevelWarning:   3,
	LogLevelError:     4,
	LogLevelCritical:  5,
	LogLevelAlert:     6,
	LogLevelEmergency: 7,
}

// ParseLogLevel validates a wire-format level name.
func ParseLogLevel(s string) (LogLevel, error) {
	lvl := LogLevel(s)
	if _, ok := logLevelOrdinals[lvl]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

// Valid reports whether l is one of the eight RFC 5424 severities.
func (l LogLevel) Valid() bool {
	_, ok := logLevelOrdinals[l]
	return ok
}

// Allows reports whether a message at severity lvl passes a threshold of l.
// An empty or unknown threshold allows everything.
func (l LogLevel) Allows(lvl LogLevel) bool {
	min, ok := logLevelOrdinals[l]
	if !ok {
		return true
	}
	ord, ok := logLevelOrdinals[lvl]
	if !ok {
		return true
	}
	return ord >= min
}
