package gateway

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gluk-w/wellgate/internal/extract"
	"github.com/gluk-w/wellgate/internal/logutil"
)

// confListAttempts is how many times Extract reads the conference list
// before giving up.
const confListAttempts = 2

// ParseConfigList returns the non-blank lines of a conference list file,
// trimmed, in file order.
func ParseConfigList(raw string) []string {
	list := []string{}
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			list = append(list, line)
		}
	}
	return list
}

// ReadConfigList reads the remote conference list. A nonzero exit status or
// any stderr output is a failure.
func (g *Gateway) ReadConfigList(ctx context.Context, id string) ([]string, error) {
	res, err := g.Execute(ctx, id, "cat "+ConfigListPath)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 || res.Stderr != "" {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = "unknown error"
		}
		return nil, &ProtocolFailure{
			Op:         OpReadConfigList,
			Message:    "failed to read cflist: " + detail,
			ExitStatus: res.ExitStatus,
		}
	}
	return ParseConfigList(res.Stdout), nil
}

// ExtractRequest selects the extract command to run. With UseConfList set,
// Command is ignored and the command is built from the remote conference
// list.
type ExtractRequest struct {
	Command     string
	UseConfList bool
}

// ExtractResult carries the structured output of an extract command.
type ExtractResult struct {
	ExitStatus int
	Output     extract.Document
	ConfList   []string
	Stderr     string
}

// Extract runs an extract-class command and converts its raw output through
// extract.RawTextToRecords and extract.RecordsToObject.
func (g *Gateway) Extract(ctx context.Context, id string, req ExtractRequest) (*ExtractResult, error) {
	var confList []string
	command := req.Command

	if req.UseConfList {
		list, err := g.confListForExtract(ctx, id)
		if err != nil {
			return nil, err
		}
		confList = list
		command = "extract -np " + strings.Join(list, ",")
	} else {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return nil, invalid("no command provided")
		}
		if !strings.EqualFold(fields[0], "extract") {
			return nil, invalid(`command must start with "extract"`)
		}
	}

	log.Printf("[gateway] extract command for session %s: %s", logutil.MaskID(id), logutil.CommandLabel(command))
	res, err := g.Execute(ctx, id, command)
	if err != nil {
		return nil, err
	}

	aux := confList
	if aux == nil {
		aux = []string{}
	}
	records := extract.RawTextToRecords(res.Stdout)
	return &ExtractResult{
		ExitStatus: res.ExitStatus,
		Output:     extract.RecordsToObject(records, aux),
		ConfList:   confList,
		Stderr:     res.Stderr,
	}, nil
}

// confListForExtract reads the conference list, retrying once when the read
// fails or exits nonzero. Session errors are returned immediately.
func (g *Gateway) confListForExtract(ctx context.Context, id string) ([]string, error) {
	for attempt := 1; attempt <= confListAttempts; attempt++ {
		res, err := g.Execute(ctx, id, "cat "+ConfigListPath)
		if errors.Is(err, ErrNoActiveSession) || errors.Is(err, ErrSessionTimedOut) {
			return nil, err
		}
		if err == nil && res.ExitStatus == 0 {
			return ParseConfigList(res.Stdout), nil
		}
		if attempt < confListAttempts {
			log.Printf("[gateway] conference list read %d/%d failed for session %s, retrying",
				attempt, confListAttempts, logutil.MaskID(id))
		}
	}
	return nil, &ProtocolFailure{Op: OpExtract, Message: "failed to retrieve conference list"}
}
