package audit

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases the sink
	Close() error
}

// LogrusLogger writes one JSON line per event through a dedicated logrus
// logger, separate from the application log
type LogrusLogger struct {
	logger *logrus.Logger
	closer io.Closer
}

// NewLogrusLogger creates an audit logger writing to w. When w is an
// io.Closer it is closed by Close.
func NewLogrusLogger(w io.Writer) *LogrusLogger {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})

	l := &LogrusLogger{logger: logger}
	if c, ok := w.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// Log writes the event. Request id and actor are filled from ctx when unset.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	if event.UserID == "" {
		event.UserID = contextkeys.GetUserID(ctx)
	}
	if event.TenantID == "" {
		event.TenantID = contextkeys.GetTenantID(ctx)
	}

	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"event_time": event.Timestamp,
	}
	addString(fields, "user_id", event.UserID)
	addString(fields, "tenant_id", event.TenantID)
	addString(fields, "resource_type", string(event.ResourceType))
	addString(fields, "resource_id", event.ResourceID)
	addString(fields, "ip_address", event.IPAddress)
	addString(fields, "user_agent", event.UserAgent)
	addString(fields, "request_id", event.RequestID)
	addString(fields, "method", event.Method)
	addString(fields, "path", event.Path)
	addString(fields, "error_message", event.ErrorMessage)
	if event.StatusCode != 0 {
		fields["status_code"] = event.StatusCode
	}
	if event.Duration != 0 {
		fields["duration_ms"] = event.Duration.Milliseconds()
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	l.logger.WithFields(fields).Info(event.Message)
	return nil
}

// Close closes the underlying writer if it is closable
func (l *LogrusLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func addString(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (NoOpLogger) Close() error                                     { return nil }

// Event builds an event for a handler, filling request context from r
func Event(r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
	if r != nil {
		event.IPAddress = httputil.ClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}
	return event
}
