// Package notify shows capture and upload outcomes to the user.
package notify

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Level is the severity of a notification
type Level int

const (
	Info Level = iota
	Warning
	Error
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "info"
}

// Notification is one user-facing message
type Notification struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Sink renders notifications. Notify must return promptly.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(n Notification)

func (f SinkFunc) Notify(n Notification) {
	f(n)
}

// Multi fans a notification out to several sinks
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewMulti creates a fan-out sink; nil sinks are skipped
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: lo.Filter(sinks, func(s Sink, _ int) bool { return s != nil })}
}

// Add appends a sink
func (m *Multi) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

func (m *Multi) Notify(n Notification) {
	m.mu.RLock()
	sinks := m.sinks
	m.mu.RUnlock()

	for _, s := range sinks {
		s.Notify(n)
	}
}

// Log writes notifications to slog
type Log struct{}

func (Log) Notify(n Notification) {
	attrs := []any{"title", n.Title, "message", n.Message}
	switch n.Level {
	case Error:
		slog.Error("Notification", attrs...)
	case Warning:
		slog.Warn("Notification", attrs...)
	default:
		slog.Info("Notification", attrs...)
	}
}
