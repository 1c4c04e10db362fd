package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs every HTTP round trip at DEBUG level
type DebugTransport struct {
	Base   http.RoundTripper
	Logger Logger
}

// NewDebugTransport wraps base; a nil base means http.DefaultTransport
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{Base: base, Logger: logger}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	logger := t.Logger.WithContext(req.Context())
	start := time.Now()
	logger.Debug("HTTP request",
		F("method", req.Method),
		F("url", redactSensitiveData(req.URL.String())),
	)

	resp, err := t.Base.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		logger.Debug("HTTP request failed",
			F("method", req.Method),
			F("duration_ms", duration.Milliseconds()),
			F("error", err.Error()),
		)
		return nil, err
	}

	logger.Debug("HTTP response",
		F("method", req.Method),
		F("status", resp.StatusCode),
		F("contentLength", resp.ContentLength),
		F("duration_ms", duration.Milliseconds()),
	)
	return resp, nil
}

// Wrap returns an http.Client whose transport is this DebugTransport
func (t *DebugTransport) Wrap(client *http.Client) *http.Client {
	if client == nil {
		return &http.Client{Transport: t}
	}
	wrapped := *client
	if client.Transport != nil {
		wrapped.Transport = &DebugTransport{Base: client.Transport, Logger: t.Logger}
	} else {
		wrapped.Transport = t
	}
	return &wrapped
}

// NewDebugLoggerWithTransport builds a logger and, when EnableDebug is set,
// a transport that traces HTTP traffic through it
func NewDebugLoggerWithTransport(config LogConfig) (Logger, *DebugTransport, error) {
	if config.EnableDebug {
		config.Level = DEBUG
	}
	logger, err := NewLogger(config)
	if err != nil {
		return nil, nil, err
	}
	if !config.EnableDebug {
		return logger, nil, nil
	}
	return logger, NewDebugTransport(nil, logger), nil
}
