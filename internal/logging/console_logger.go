package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	debugColor = forcedColor(color.FgBlue)
	warnColor  = forcedColor(color.FgYellow)
	errorColor = forcedColor(color.FgRed)
	dimColor   = forcedColor(color.FgHiBlack)
)

// forcedColor ignores terminal detection; loggers decide on their own
func forcedColor(attr color.Attribute) *color.Color {
	c := color.New(attr)
	c.EnableColor()
	return c
}

// ConsoleLogger writes human-readable lines, usually to stderr
type ConsoleLogger struct {
	mu               *sync.Mutex
	writer           io.Writer
	level            LogLevel
	traceID          string
	colorEnabled     bool
	timestampEnabled bool
	redactSensitive  bool
}

// ConsoleLoggerConfig contains configuration for console logger
type ConsoleLoggerConfig struct {
	Writer           io.Writer
	Level            LogLevel
	ColorEnabled     bool
	TimestampEnabled bool
	RedactSensitive  bool
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(config ConsoleLoggerConfig) *ConsoleLogger {
	if config.Writer == nil {
		config.Writer = os.Stderr
	}

	return &ConsoleLogger{
		mu:               &sync.Mutex{},
		writer:           config.Writer,
		level:            config.Level,
		colorEnabled:     config.ColorEnabled && !color.NoColor,
		timestampEnabled: config.TimestampEnabled,
		redactSensitive:  config.RedactSensitive,
	}
}

var (
	bearerTokenPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	oauthTokenPattern  = regexp.MustCompile(`(access_token|refresh_token|id_token)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?[A-Za-z0-9\-._~+/]+=*`)
	authHeaderPattern  = regexp.MustCompile(`(?i)authorization["']?\s*[:=]\s*["']?[^\s"']+`)
	signedURLPattern   = regexp.MustCompile(`(?i)(verifier|X-Amz-Signature|X-Amz-Credential|sig)=[^&\s"']+`)
)

// redactSensitiveData masks credentials that may leak into messages
func redactSensitiveData(s string) string {
	s = bearerTokenPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	s = oauthTokenPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = apiKeyPattern.ReplaceAllString(s, "$1=[REDACTED]")
	s = authHeaderPattern.ReplaceAllString(s, "Authorization: [REDACTED]")
	s = signedURLPattern.ReplaceAllString(s, "$1=[REDACTED]")
	return s
}

func (l *ConsoleLogger) paint(c *color.Color, s string) string {
	if !l.colorEnabled || c == nil {
		return s
	}
	return c.Sprint(s)
}

func (l *ConsoleLogger) formatMessage(level LogLevel, msg string, fields ...Field) string {
	var sb strings.Builder

	if l.timestampEnabled {
		sb.WriteString(l.paint(dimColor, time.Now().Format("2006-01-02 15:04:05")))
		sb.WriteString(" ")
	}

	var levelColor *color.Color
	switch level {
	case DEBUG:
		levelColor = debugColor
	case WARN:
		levelColor = warnColor
	case ERROR:
		levelColor = errorColor
	}
	sb.WriteString(l.paint(levelColor, fmt.Sprintf("%-5s", level.String())))
	sb.WriteString(" ")

	if l.traceID != "" {
		id := l.traceID
		if len(id) > 8 {
			id = id[:8]
		}
		sb.WriteString(l.paint(dimColor, "["+id+"]"))
		sb.WriteString(" ")
	}

	if l.redactSensitive {
		msg = redactSensitiveData(msg)
	}
	sb.WriteString(msg)

	for i, field := range fields {
		if i == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		value := fmt.Sprintf("%v", field.Value)
		if l.redactSensitive {
			value = redactSensitiveData(value)
		}
		sb.WriteString(field.Key)
		sb.WriteString("=")
		sb.WriteString(value)
	}

	return sb.String()
}

func (l *ConsoleLogger) log(level LogLevel, msg string, fields ...Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	_, _ = fmt.Fprintln(l.writer, l.formatMessage(level, msg, fields...))
}

func (l *ConsoleLogger) Debug(msg string, fields ...Field) { l.log(DEBUG, msg, fields...) }
func (l *ConsoleLogger) Info(msg string, fields ...Field)  { l.log(INFO, msg, fields...) }
func (l *ConsoleLogger) Warn(msg string, fields ...Field)  { l.log(WARN, msg, fields...) }
func (l *ConsoleLogger) Error(msg string, fields ...Field) { l.log(ERROR, msg, fields...) }

// WithTraceID returns a logger sharing this one's writer that tags lines with traceID
func (l *ConsoleLogger) WithTraceID(traceID string) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &ConsoleLogger{
		mu:               l.mu,
		writer:           l.writer,
		level:            l.level,
		traceID:          traceID,
		colorEnabled:     l.colorEnabled,
		timestampEnabled: l.timestampEnabled,
		redactSensitive:  l.redactSensitive,
	}
}

func (l *ConsoleLogger) WithContext(ctx context.Context) Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return l
	}
	return l.WithTraceID(traceID)
}

func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *ConsoleLogger) Close() error {
	return nil
}
