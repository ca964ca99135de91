package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gluk-w/wellgate/internal/gateway"
	"github.com/gluk-w/wellgate/internal/middleware"
)

// Execute handles POST /execute.
func Execute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Command) == "" {
		writeError(w, http.StatusBadRequest, "No command provided")
		return
	}

	res, err := Gateway.Execute(r.Context(), middleware.GetSessionID(r), body.Command)
	if err != nil {
		writeGatewayError(w, err, http.StatusUnauthorized)
		return
	}

	refreshSessionCookie(w, r)
	resp := map[string]interface{}{
		"exit_status": res.ExitStatus,
		"output":      res.Stdout,
	}
	if res.Stderr != "" {
		resp["error_output"] = res.Stderr
	}
	writeJSON(w, http.StatusOK, resp)
}

// ExtractConfContent handles POST /extractconfcontent.
func ExtractConfContent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command  string `json:"command"`
		ConfList bool   `json:"conflist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := Gateway.Extract(r.Context(), middleware.GetSessionID(r), gateway.ExtractRequest{
		Command:     body.Command,
		UseConfList: body.ConfList,
	})
	if err != nil {
		writeGatewayError(w, err, http.StatusUnauthorized)
		return
	}

	refreshSessionCookie(w, r)
	resp := map[string]interface{}{
		"exit_status": res.ExitStatus,
		"output":      res.Output,
	}
	if body.ConfList {
		resp["conflist"] = res.ConfList
	}
	if res.Stderr != "" {
		resp["error_output"] = res.Stderr
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetConfList handles GET /cflist.
func GetConfList(w http.ResponseWriter, r *http.Request) {
	list, err := Gateway.ReadConfigList(r.Context(), middleware.GetSessionID(r))
	if err != nil {
		writeGatewayError(w, err, http.StatusUnauthorized)
		return
	}
	refreshSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{"cflist": list})
}

// PostReply handles POST /postreply. The reply body arrives base64 encoded.
func PostReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content    *string     `json:"base64_content"`
		Conference *flexString `json:"conference"`
		Topic      *flexString `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Content == nil || body.Conference == nil || body.Topic == nil {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*body.Content))
	if err != nil {
		writeError(w, http.StatusBadRequest, "base64_content is not valid base64")
		return
	}
	if !utf8.Valid(decoded) {
		writeError(w, http.StatusBadRequest, "base64_content is not valid UTF-8")
		return
	}

	out, err := Gateway.ReplyPost(r.Context(), middleware.GetSessionID(r),
		string(*body.Conference), string(*body.Topic), replyLines(string(decoded)))
	if err != nil {
		writeGatewayError(w, err, http.StatusInternalServerError)
		return
	}
	refreshSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"output":  out,
	})
}

// replyLines trims the decoded body and splits it into lines, accepting CRLF.
func replyLines(content string) []string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// PutConfList handles POST /put_cflist.
func PutConfList(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConfList json.RawMessage `json:"cflist"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(body.ConfList) == 0 || string(body.ConfList) == "null" {
		writeError(w, http.StatusBadRequest, "Missing cflist parameter")
		return
	}
	var entries []string
	if err := json.Unmarshal(body.ConfList, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "cflist must be a list of strings")
		return
	}

	msg, err := Gateway.ReplaceList(r.Context(), middleware.GetSessionID(r), entries)
	if err != nil {
		writeGatewayError(w, err, http.StatusInternalServerError)
		return
	}
	refreshSessionCookie(w, r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
	})
}
