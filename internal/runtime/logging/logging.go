// Package logging is the structured logging contract shared by the publisher,
// the dispatcher, the heartbeat and the Watermill router.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured key/value pairs attached to a log line.
type LogFields map[string]any

// Field keys used on every pipeline outcome line.
const (
	FieldEntityType = "entity_type"
	FieldOperation  = "operation"
	FieldSourceID   = "source_id"
	FieldMasterUUID = "master_uuid"
	FieldState      = "state"
	FieldService    = "service"
	FieldMessageID  = "message_uuid"
)

// ServiceLogger is the logging contract of syncflow components. It maps onto
// Watermill's logging needs so the router, the AMQP connection and the
// pipeline write through one logger.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var logLevelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger so it satisfies ServiceLogger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("syncflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, logLevelMapping))
}

// NewJSONLogger writes JSON lines to w at the given level.
func NewJSONLogger(w io.Writer, level slog.Level) ServiceLogger {
	return NewSlogServiceLogger(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewWatermillServiceLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("syncflow: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

// Nop discards everything.
func Nop() ServiceLogger {
	return NewWatermillServiceLogger(watermill.NopLogger{})
}

// OrNop returns log, or a discarding logger when log is nil.
func OrNop(log ServiceLogger) ServiceLogger {
	if log == nil {
		return Nop()
	}
	return log
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return w
	}
	return &watermillServiceLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type serviceLoggerAdapter struct {
	base ServiceLogger
}

// NewWatermillAdapter turns a ServiceLogger back into a Watermill LoggerAdapter
// for the router, the publishers and the subscribers.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("syncflow: ServiceLogger cannot be nil")
	}
	if w, ok := log.(*watermillServiceLogger); ok {
		return w.inner
	}
	return &serviceLoggerAdapter{base: log}
}

func (s *serviceLoggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, fromWatermillFields(fields))
}

func (s *serviceLoggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &serviceLoggerAdapter{base: s.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}
