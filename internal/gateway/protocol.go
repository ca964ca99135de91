package gateway

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gluk-w/wellgate/internal/sshconn"
)

const (
	// ConfigListPath is the remote file holding the user's conference list.
	ConfigListPath = ".cfdir/.wscflist"

	// ReplaceListMessage is returned by a successful ReplaceList.
	ReplaceListMessage = "Successfully updated .wscflist"

	// replyTerminator ends a reply body for the remote post command.
	replyTerminator = "."
)

// identifierPattern restricts conference and topic identifiers, which are
// interpolated into the remote command line.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ReplyPost enters a reply to topic in conference. The body lines are written
// to `post -n <conference> <topic>` followed by a line holding only ".".
// The outcome is judged by Classify. Any failure on the first attempt earns
// one reconnect and retry.
func (g *Gateway) ReplyPost(ctx context.Context, id, conference, topic string, lines []string) (string, error) {
	if !identifierPattern.MatchString(conference) {
		return "", invalid("invalid conference %q", conference)
	}
	if !identifierPattern.MatchString(topic) {
		return "", invalid("invalid topic %q", topic)
	}
	for i, line := range lines {
		if strings.ContainsAny(line, "\r\n") {
			return "", invalid("line %d contains a line break", i+1)
		}
		if line == replyTerminator {
			return "", invalid("line %d would end the reply early", i+1)
		}
	}

	command := fmt.Sprintf("post -n %s %s", conference, topic)
	var output string
	err := g.withSession(ctx, id, OpReplyPost, retryOnAnyFailure, func(ctx context.Context, h sshconn.Handle) error {
		res, err := runInteractive(ctx, h, command, lines, true)
		if err != nil {
			return err
		}
		output, err = classifyFor(OpReplyPost, res)
		return err
	})
	if err != nil {
		return "", err
	}
	return output, nil
}

// ReplaceList overwrites the remote conference list with entries, one per
// line. End of input is signalled only by closing stdin; no terminator is
// written.
func (g *Gateway) ReplaceList(ctx context.Context, id string, entries []string) (string, error) {
	for i, e := range entries {
		if strings.ContainsAny(e, "\r\n") {
			return "", invalid("entry %d contains a line break", i+1)
		}
	}

	command := "cat > " + ConfigListPath
	err := g.withSession(ctx, id, OpReplaceList, retryOnAnyFailure, func(ctx context.Context, h sshconn.Handle) error {
		res, err := runInteractive(ctx, h, command, entries, false)
		if err != nil {
			return err
		}
		_, err = classifyFor(OpReplaceList, res)
		return err
	})
	if err != nil {
		return "", err
	}
	return ReplaceListMessage, nil
}

// runInteractive opens a channel for command, streams lines (and the
// terminator when terminate is set), closes stdin and waits for the channel
// to end. Completion is the channel closing, never the output contents.
func runInteractive(ctx context.Context, h sshconn.Handle, command string, lines []string, terminate bool) (sshconn.ExecResult, error) {
	ch, err := h.OpenChannel(ctx, command)
	if err != nil {
		return sshconn.ExecResult{}, &transportFault{err: err}
	}
	defer ch.Close()

	stdin := ch.Stdin()
	w := bufio.NewWriter(stdin)
	for _, line := range lines {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if terminate {
		w.WriteString(replyTerminator + "\n")
	}
	if err := w.Flush(); err != nil {
		return sshconn.ExecResult{}, &transportFault{err: fmt.Errorf("write input: %w", err)}
	}
	if err := stdin.Close(); err != nil {
		return sshconn.ExecResult{}, &transportFault{err: fmt.Errorf("close input: %w", err)}
	}

	res, err := ch.Wait()
	if err != nil {
		return sshconn.ExecResult{}, &transportFault{err: err}
	}
	return res, nil
}

func classifyFor(op string, res sshconn.ExecResult) (string, error) {
	out, err := Classify(res.Stderr, res.Stdout, res.ExitStatus)
	var pf *ProtocolFailure
	if errors.As(err, &pf) {
		pf.Op = op
	}
	return out, err
}
