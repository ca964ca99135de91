package sshconn

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// Channel is a running remote command with streamed input. The caller writes
// input, closes Stdin, then calls Wait to collect the output.
type Channel interface {
	Stdin() io.WriteCloser
	Wait() (ExecResult, error)
	Close() error
}

type sshChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	ctx     context.Context
	stop    func() bool

	stdout bytes.Buffer
	stderr bytes.Buffer
}

func (ch *sshChannel) Stdin() io.WriteCloser { return ch.stdin }

// Wait blocks until the remote command exits and the channel closes.
func (ch *sshChannel) Wait() (ExecResult, error) {
	defer ch.stop()
	err := ch.session.Wait()
	if ch.ctx.Err() != nil {
		return ExecResult{}, fmt.Errorf("wait: %w", ch.ctx.Err())
	}
	return finish(err, &ch.stdout, &ch.stderr)
}

func (ch *sshChannel) Close() error {
	ch.stop()
	return ch.session.Close()
}
