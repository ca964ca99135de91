package sshaudit

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/gluk-w/wellgate/internal/database"
	"github.com/gluk-w/wellgate/internal/gateway"
	"github.com/gluk-w/wellgate/internal/logutil"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

// Event types for session audit logging.
const (
	EventSessionConnected    = "session_connected"
	EventSessionDisconnected = "session_disconnected"
	EventSessionEvicted      = "session_evicted"
	EventSessionReconnected  = "session_reconnected"
	EventReconnectFailed     = "reconnect_failed"
	EventAuthFailed          = "auth_failed"
	EventCommandExecution    = "command_execution"
	EventProtocolFailure     = "protocol_failure"
)

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

// PurgeSpec is the cron schedule for the retention purge.
const PurgeSpec = "@daily"

// AuditEntry contains the fields needed to create an audit log entry.
// SessionID is masked before it is stored.
type AuditEntry struct {
	SessionID  string
	EventType  string
	Username   string
	SourceIP   string
	Operation  string
	Result     string
	Details    string
	DurationMs int64
}

// Auditor records session events to the database and emits a log line for
// each.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time // injectable clock for testing
}

// NewAuditor creates an Auditor writing to db and migrates its table. If
// retentionDays is 0, DefaultRetentionDays is used.
func NewAuditor(db *gorm.DB, retentionDays int) (*Auditor, error) {
	if db == nil {
		return nil, errors.New("sshaudit: nil database")
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if err := db.AutoMigrate(&database.SessionAuditLog{}); err != nil {
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}, nil
}

// Log records an audit event to the database and standard logger.
func (a *Auditor) Log(entry AuditEntry) error {
	record := database.SessionAuditLog{
		SessionID:  maskSession(entry.SessionID),
		EventType:  entry.EventType,
		Username:   entry.Username,
		SourceIP:   entry.SourceIP,
		Operation:  entry.Operation,
		Result:     entry.Result,
		Details:    entry.Details,
		DurationMs: entry.DurationMs,
		CreatedAt:  a.now(),
	}

	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[ssh-audit] failed to write audit log: %v", err)
		return err
	}

	log.Printf("[ssh-audit] %s session=%s user=%s ip=%s op=%s result=%s",
		entry.EventType,
		record.SessionID,
		logutil.SanitizeForLog(entry.Username),
		entry.SourceIP,
		entry.Operation,
		entry.Result,
	)
	return nil
}

// HandleEvent is a gateway.EventListener.
func (a *Auditor) HandleEvent(ev gateway.Event) {
	entry := AuditEntry{
		SessionID:  ev.SessionID,
		Username:   ev.User,
		SourceIP:   ev.SourceIP,
		Operation:  ev.Op,
		Result:     ev.Result(),
		Details:    ev.Details,
		DurationMs: ev.Duration.Milliseconds(),
	}
	switch ev.Type {
	case gateway.EventConnected:
		entry.EventType = EventSessionConnected
	case gateway.EventAuthFailed:
		entry.EventType = EventAuthFailed
	case gateway.EventReconnected:
		entry.EventType = EventSessionReconnected
	case gateway.EventReconnectFailed:
		entry.EventType = EventReconnectFailed
	case gateway.EventCommand:
		entry.EventType = EventCommandExecution
		if entry.Result == "protocol_failure" {
			entry.EventType = EventProtocolFailure
		}
		if ev.Err != nil && entry.Details == "" {
			entry.Details = ev.Err.Error()
		}
	default:
		return
	}
	a.Log(entry)
}

// HandleRemoval is an sshsession.RemoveListener.
func (a *Auditor) HandleRemoval(r sshsession.Removal) {
	eventType := EventSessionDisconnected
	if r.Reason == sshsession.ReasonIdle {
		eventType = EventSessionEvicted
	}
	a.Log(AuditEntry{
		SessionID:  r.SessionID,
		EventType:  eventType,
		Username:   r.User,
		Details:    "reason=" + string(r.Reason),
		DurationMs: r.Age.Milliseconds(),
	})
}

// QueryOptions specifies filters for retrieving audit logs.
type QueryOptions struct {
	EventType string
	Username  string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.SessionAuditLog `json:"entries"`
	Total   int64                      `json:"total"`
	Limit   int                        `json:"limit"`
	Offset  int                        `json:"offset"`
}

// Query retrieves audit log entries matching the given options, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	tx := a.db.Model(&database.SessionAuditLog{})

	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Username != "" {
		tx = tx.Where("username = ?", opts.Username)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.SessionAuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan removes entries older than days, or the configured retention
// period when days is 0. Returns the number of records deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.now().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.SessionAuditLog{})
	if result.Error != nil {
		log.Printf("[ssh-audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[ssh-audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// RegisterPurge schedules the retention purge on c.
func (a *Auditor) RegisterPurge(c *cron.Cron) (cron.EntryID, error) {
	id, err := c.AddFunc(PurgeSpec, func() { a.PurgeOlderThan(0) })
	if err != nil {
		return 0, fmt.Errorf("schedule audit purge: %w", err)
	}
	return id, nil
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc sets the clock function used for testing.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nowFn = fn
}

func (a *Auditor) now() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nowFn()
}

func maskSession(id string) string {
	if id == "" {
		return ""
	}
	return logutil.MaskID(id)
}
