package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cryophile/cryophile/internal/config"
)

// EventType represents the type of audit event in a backup's lifecycle.
type EventType string

const (
	// EventTypeBackupStart marks the beginning of a Backup invocation.
	EventTypeBackupStart EventType = "backup_start"
	// EventTypeChunkSealed marks one chunk finishing its final write in Split.
	EventTypeChunkSealed EventType = "chunk_sealed"
	// EventTypeFreezeUploaded marks one chunk successfully uploaded by Freeze.
	EventTypeFreezeUploaded EventType = "freeze_uploaded"
	// EventTypeRestoreDownloaded marks one chunk successfully downloaded by Thaw.
	EventTypeRestoreDownloaded EventType = "restore_downloaded"
	// EventTypeSentinelObserved marks the chunk.0 completion sentinel arriving,
	// either locally (Freeze) or from cold storage (Thaw).
	EventTypeSentinelObserved EventType = "sentinel_observed"
	// EventTypeDecryptAttempted marks a Restore's attempt to unlock the
	// envelope, whether or not it succeeded.
	EventTypeDecryptAttempted EventType = "decrypt_attempted"
)

// AuditEvent represents a single audit log event over one backup's lifecycle.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  EventType              `json:"event_type"`
	Operation  string                 `json:"operation"`
	BackupID   string                 `json:"backup_id,omitempty"`
	Chunk      string                 `json:"chunk,omitempty"`
	Algorithm  string                 `json:"algorithm,omitempty"`
	Success    bool                   `json:"success"`
	Error      string                 `json:"error,omitempty"`
	Duration   time.Duration          `json:"duration_ns"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogBackupStart logs the beginning of a Backup invocation.
	LogBackupStart(backupID string, metadata map[string]interface{})

	// LogChunkSealed logs one chunk finishing its final write.
	LogChunkSealed(backupID, chunk string, success bool, err error, duration time.Duration)

	// LogFreezeUploaded logs one chunk successfully uploaded to cold storage.
	LogFreezeUploaded(backupID, chunk string, success bool, err error, duration time.Duration)

	// LogRestoreDownloaded logs one chunk successfully downloaded from cold storage.
	LogRestoreDownloaded(backupID, chunk string, success bool, err error, duration time.Duration)

	// LogSentinelObserved logs the completion sentinel (chunk.0) arriving.
	LogSentinelObserved(backupID string, success bool, err error)

	// LogDecryptAttempted logs a Restore's attempt to unlock the envelope.
	LogDecryptAttempted(backupID, algorithm string, success bool, err error, duration time.Duration)

	// GetEvents returns all audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}

	return &auditLogger{
		events:     make([]*AuditEvent, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("audit: unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, cfg.Sink.RetryCount, cfg.Sink.RetryBackoff)
	}

	return NewLoggerWithRedaction(cfg.MaxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}

	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// redactMetadata removes sensitive keys from metadata.
func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for _, k := range l.redactKeys {
		if _, ok := metadata[k]; ok {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	for _, key := range l.redactKeys {
		if _, ok := clone[key]; ok {
			clone[key] = "[REDACTED]"
		}
	}
	return clone
}

func (l *auditLogger) LogBackupStart(backupID string, metadata map[string]interface{}) {
	l.Log(&AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeBackupStart,
		Operation: "backup_start",
		BackupID:  backupID,
		Success:   true,
		Metadata:  l.redactMetadata(metadata),
	})
}

func (l *auditLogger) LogChunkSealed(backupID, chunk string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeChunkSealed,
		Operation: "chunk_sealed",
		BackupID:  backupID,
		Chunk:     chunk,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogFreezeUploaded(backupID, chunk string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeFreezeUploaded,
		Operation: "freeze_uploaded",
		BackupID:  backupID,
		Chunk:     chunk,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogRestoreDownloaded(backupID, chunk string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeRestoreDownloaded,
		Operation: "restore_downloaded",
		BackupID:  backupID,
		Chunk:     chunk,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogSentinelObserved(backupID string, success bool, err error) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeSentinelObserved,
		Operation: "sentinel_observed",
		BackupID:  backupID,
		Success:   success,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) LogDecryptAttempted(backupID, algorithm string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeDecryptAttempted,
		Operation: "decrypt_attempted",
		BackupID:  backupID,
		Algorithm: algorithm,
		Success:   success,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
