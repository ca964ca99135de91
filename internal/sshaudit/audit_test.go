package sshaudit

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/gluk-w/wellgate/internal/gateway"
	"github.com/gluk-w/wellgate/internal/sshsession"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return db
}

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	a, err := NewAuditor(setupTestDB(t), 90)
	if err != nil {
		t.Fatalf("new auditor: %v", err)
	}
	return a
}

func TestNewAuditor_NilDB(t *testing.T) {
	if _, err := NewAuditor(nil, 0); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestNewAuditor_DefaultRetention(t *testing.T) {
	a, err := NewAuditor(setupTestDB(t), 0)
	if err != nil {
		t.Fatalf("new auditor: %v", err)
	}
	if a.RetentionDays() != DefaultRetentionDays {
		t.Errorf("expected %d retention days, got %d", DefaultRetentionDays, a.RetentionDays())
	}
}

func TestLog_MasksSessionID(t *testing.T) {
	a := newTestAuditor(t)
	id := "0f8fad5b-d9cb-469f-a165-70867728950e"

	if err := a.Log(AuditEntry{SessionID: id, EventType: EventSessionConnected, Username: "alice"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	res, err := a.Query(QueryOptions{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 {
		t.Fatalf("expected 1 entry, got %d", res.Total)
	}
	stored := res.Entries[0].SessionID
	if stored == id || strings.Contains(stored, id[8:]) {
		t.Errorf("session id stored unmasked: %q", stored)
	}
	if !strings.HasPrefix(stored, id[:8]) {
		t.Errorf("masked id %q lost its prefix", stored)
	}
}

func TestHandleEvent_Mapping(t *testing.T) {
	a := newTestAuditor(t)

	a.HandleEvent(gateway.Event{Type: gateway.EventConnected, SessionID: "s1-aaaaaaaaa", User: "alice", SourceIP: "10.0.0.1"})
	a.HandleEvent(gateway.Event{Type: gateway.EventAuthFailed, User: "mallory", Err: gateway.ErrAuthFailed})
	a.HandleEvent(gateway.Event{Type: gateway.EventCommand, SessionID: "s1-aaaaaaaaa", User: "alice", Op: gateway.OpExecute, Duration: 1500 * time.Millisecond})
	a.HandleEvent(gateway.Event{Type: gateway.EventCommand, SessionID: "s1-aaaaaaaaa", User: "alice", Op: gateway.OpReplyPost,
		Err: &gateway.ProtocolFailure{Message: "operation failed: Invalid topic"}})
	a.HandleEvent(gateway.Event{Type: gateway.EventReconnected, SessionID: "s1-aaaaaaaaa", User: "alice"})
	a.HandleEvent(gateway.Event{Type: gateway.EventReconnectFailed, SessionID: "s1-aaaaaaaaa", User: "alice", Err: errors.New("refused")})

	tests := []struct {
		eventType string
		want      int64
	}{
		{EventSessionConnected, 1},
		{EventAuthFailed, 1},
		{EventCommandExecution, 1},
		{EventProtocolFailure, 1},
		{EventSessionReconnected, 1},
		{EventReconnectFailed, 1},
	}
	for _, tt := range tests {
		res, err := a.Query(QueryOptions{EventType: tt.eventType})
		if err != nil {
			t.Fatalf("query %s: %v", tt.eventType, err)
		}
		if res.Total != tt.want {
			t.Errorf("%s: expected %d entries, got %d", tt.eventType, tt.want, res.Total)
		}
	}

	res, _ := a.Query(QueryOptions{EventType: EventCommandExecution})
	cmd := res.Entries[0]
	if cmd.Operation != gateway.OpExecute || cmd.Result != "ok" || cmd.DurationMs != 1500 {
		t.Errorf("command entry = %+v", cmd)
	}

	res, _ = a.Query(QueryOptions{EventType: EventProtocolFailure})
	if !strings.Contains(res.Entries[0].Details, "Invalid topic") {
		t.Errorf("protocol failure details = %q", res.Entries[0].Details)
	}
}

func TestHandleRemoval(t *testing.T) {
	a := newTestAuditor(t)

	a.HandleRemoval(sshsession.Removal{SessionID: "abcdefgh-1234", User: "alice", Reason: sshsession.ReasonIdle, Age: time.Hour})
	a.HandleRemoval(sshsession.Removal{SessionID: "abcdefgh-5678", User: "alice", Reason: sshsession.ReasonDisconnect})
	a.HandleRemoval(sshsession.Removal{SessionID: "abcdefgh-9999", User: "bob", Reason: sshsession.ReasonShutdown})

	res, err := a.Query(QueryOptions{EventType: EventSessionEvicted})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 1 || res.Entries[0].DurationMs != time.Hour.Milliseconds() {
		t.Errorf("evicted entries = %+v", res.Entries)
	}

	res, _ = a.Query(QueryOptions{EventType: EventSessionDisconnected})
	if res.Total != 2 {
		t.Errorf("expected 2 disconnects, got %d", res.Total)
	}
	res, _ = a.Query(QueryOptions{EventType: EventSessionDisconnected, Username: "bob"})
	if res.Total != 1 || res.Entries[0].Details != "reason=shutdown" {
		t.Errorf("shutdown entry = %+v", res.Entries)
	}
}

func TestQuery_PaginationAndOrder(t *testing.T) {
	a := newTestAuditor(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		a.SetNowFunc(func() time.Time { return at })
		a.Log(AuditEntry{EventType: EventCommandExecution, Username: "alice", Details: string(rune('a' + i))})
	}

	res, err := a.Query(QueryOptions{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Total != 5 || len(res.Entries) != 2 {
		t.Fatalf("total=%d len=%d", res.Total, len(res.Entries))
	}
	if res.Entries[0].Details != "d" || res.Entries[1].Details != "c" {
		t.Errorf("order = %q, %q", res.Entries[0].Details, res.Entries[1].Details)
	}

	since := base.Add(3 * time.Minute)
	res, _ = a.Query(QueryOptions{Since: &since})
	if res.Total != 2 {
		t.Errorf("since filter: expected 2, got %d", res.Total)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	a := newTestAuditor(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -120) })
	a.Log(AuditEntry{EventType: EventSessionConnected, Username: "old"})
	a.SetNowFunc(func() time.Time { return now.AddDate(0, 0, -10) })
	a.Log(AuditEntry{EventType: EventSessionConnected, Username: "recent"})

	a.SetNowFunc(func() time.Time { return now })
	deleted, err := a.PurgeOlderThan(0)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	res, _ := a.Query(QueryOptions{})
	if res.Total != 1 || res.Entries[0].Username != "recent" {
		t.Errorf("remaining = %+v", res.Entries)
	}
}

func TestRegisterPurge(t *testing.T) {
	a := newTestAuditor(t)
	c := cron.New()
	id, err := a.RegisterPurge(c)
	if err != nil {
		t.Fatalf("register purge: %v", err)
	}
	if !c.Entry(id).Valid() {
		t.Error("purge entry not scheduled")
	}
}
