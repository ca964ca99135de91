package handlers

import (
	"net/http"

	"github.com/gluk-w/wellgate/internal/database"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if database.DB != nil {
		dbStatus = "disconnected"
		if sqlDB, err := database.DB.DB(); err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	sessions := 0
	if Gateway != nil {
		sessions = Gateway.Registry().Len()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": sessions,
		"database": dbStatus,
	})
}

// Shutdown is set from main.go; it starts a graceful shutdown.
var Shutdown func()

// ShutdownServer handles POST /shutdown (admin only).
func ShutdownServer(w http.ResponseWriter, r *http.Request) {
	if Shutdown == nil {
		writeError(w, http.StatusServiceUnavailable, "Shutdown not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server shutting down..."})
	go Shutdown()
}
