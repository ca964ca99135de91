// Package sshaudit records session lifecycle and command events.
//
// [Auditor] writes to the session_audit_logs table through GORM and echoes
// each record to the standard logger under the [ssh-audit] prefix. It plugs
// into the rest of the system as two listeners:
//
//	gw.OnEvent(auditor.HandleEvent)     // logins, commands, reconnects
//	reg.OnRemove(auditor.HandleRemoval) // disconnects, evictions, shutdown
//
// Session ids are stored masked and credentials are never recorded.
//
// Entries older than the retention period ([DefaultRetentionDays] unless
// configured) are removed by [Auditor.PurgeOlderThan], which
// [Auditor.RegisterPurge] schedules daily on the shared cron.
package sshaudit
