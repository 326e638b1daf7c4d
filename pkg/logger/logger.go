package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new logger instance for the named service
func New(service, level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log, service: service}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithField creates a new logger entry with a single field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithError creates a new logger entry with an error field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// WithComponent creates a new logger entry with component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service":   l.service,
		"component": component,
	})
}

// WithSession creates a new logger entry with a session ID field
func (l *Logger) WithSession(sessionID string) *logrus.Entry {
	return l.Logger.WithField("session_id", sessionID)
}

// WithTool creates a new logger entry with tool-call correlation fields
func (l *Logger) WithTool(toolName, toolUseID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"tool":        toolName,
		"tool_use_id": toolUseID,
	})
}

// WithPatient creates a new logger entry with a patient ID field
func (l *Logger) WithPatient(patientID string) *logrus.Entry {
	return l.Logger.WithField("patient_id", patientID)
}

// ToolCall logs a tool invocation with structured format
func (l *Logger) ToolCall(sessionID, toolName string, success bool, durationMs int64, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"tool":        toolName,
		"success":     success,
		"duration_ms": durationMs,
		"details":     details,
	})

	if success {
		entry.Info("Tool call")
	} else {
		entry.Warn("Tool call failed")
	}
}
