package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/wellgate/internal/sshaudit"
)

// AuditLog is set from main.go during init; nil when the database is
// disabled.
var AuditLog *sshaudit.Auditor

// GetAuditLogs handles GET /audit-logs (admin only).
// Query parameters:
//   - event_type, username (optional): exact-match filters
//   - since (optional): RFC 3339 lower bound
//   - limit (optional): entries per page (default 50, max 1000)
//   - offset (optional): pagination offset
func GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if AuditLog == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit logging not initialized")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		EventType: q.Get("event_type"),
		Username:  q.Get("username"),
	}

	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since")
			return
		}
		opts.Since = &since
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = limit
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = offset
	}

	result, err := AuditLog.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
