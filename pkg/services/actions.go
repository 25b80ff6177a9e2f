package services

import (
	"fmt"
	"strings"
	"time"
)

// ActionLog accumulates timestamped, human-readable entries describing every
// decision made during a harvest run. It is append-only within one run and
// doubles as the per-item audit trail.
type ActionLog struct {
	now     func() time.Time
	entries []string
}

// NewActionLog creates an empty action log. A nil clock uses time.Now.
func NewActionLog(now func() time.Time) *ActionLog {
	if now == nil {
		now = time.Now
	}
	return &ActionLog{now: now}
}

// Addf appends one formatted entry prefixed with the current timestamp and
// returns the message without the timestamp, for reuse in log statements.
func (l *ActionLog) Addf(format string, args ...any) string {
	msg := fmt.Sprintf(format, args...)
	l.entries = append(l.entries, fmt.Sprintf("%s %s", l.now().Format(time.RFC3339), msg))
	return msg
}

// Entries returns the accumulated entries in append order.
func (l *ActionLog) Entries() []string {
	return l.entries
}

// Text renders the log as newline-separated entries.
func (l *ActionLog) Text() string {
	return strings.Join(l.entries, "\n")
}
