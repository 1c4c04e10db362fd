package logging

import "context"

// NoOpLogger discards everything
type NoOpLogger struct{}

func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(string, ...Field)             {}
func (l *NoOpLogger) Info(string, ...Field)              {}
func (l *NoOpLogger) Warn(string, ...Field)              {}
func (l *NoOpLogger) Error(string, ...Field)             {}
func (l *NoOpLogger) WithTraceID(string) Logger          { return l }
func (l *NoOpLogger) WithContext(context.Context) Logger { return l }
func (l *NoOpLogger) SetLevel(LogLevel)                  {}
func (l *NoOpLogger) Close() error                       { return nil }
