package gateway

import (
	"fmt"
	"strings"
)

// failureKeywords are matched case-insensitively against stdout. The remote
// conferencing tools print most errors as plain text with exit status 0, so
// this scan is the only signal. It misfires on legitimate output that
// contains one of the words and misses any phrasing not listed.
var failureKeywords = []string{
	"error",
	"invalid",
	"failed",
	"denied",
	"not found",
	"cannot",
	"unauthorized",
	"permission denied",
}

// Classify decides whether an interactive remote operation succeeded. The
// rules apply in order: any stderr fails; any failure keyword in stdout
// fails; a nonzero exit fails; otherwise stdout is the result.
func Classify(stderr, stdout string, exitStatus int) (string, error) {
	if stderr != "" {
		return "", &ProtocolFailure{Message: "command error: " + stderr, ExitStatus: exitStatus}
	}

	lower := strings.ToLower(stdout)
	for _, kw := range failureKeywords {
		if strings.Contains(lower, kw) {
			return "", &ProtocolFailure{Message: "operation failed: " + stdout, ExitStatus: exitStatus}
		}
	}

	if exitStatus != 0 {
		return "", &ProtocolFailure{
			Message:    fmt.Sprintf("command failed with exit status %d: %s", exitStatus, stdout),
			ExitStatus: exitStatus,
		}
	}

	return stdout, nil
}
