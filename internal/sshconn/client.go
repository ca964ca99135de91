// Package sshconn wraps a single authenticated SSH connection to the remote
// conferencing host.
//
// A Handle runs one-shot commands and opens interactive channels over one
// multiplexed connection. It owns no retry logic: every error it returns is a
// transport fault, and a command that ran but exited nonzero is reported in
// ExecResult.ExitStatus with a nil error. Reconnection is the caller's job
// (see internal/gateway).
package sshconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/wellgate/internal/logutil"
)

// DefaultConnectTimeout bounds dial plus handshake for a new connection.
const DefaultConnectTimeout = 5 * time.Second

// KeepaliveTimeout bounds the wait for a keepalive reply.
const KeepaliveTimeout = 3 * time.Second

// ErrAuth is wrapped by Dial errors caused by the server rejecting the
// supplied credentials.
var ErrAuth = errors.New("ssh authentication failed")

// Credentials identify the remote account a session logs in as. Host and Port
// come from deployment configuration; User and Secret come from the caller and
// live only in memory.
type Credentials struct {
	Host   string
	Port   int
	User   string
	Secret string
}

// Addr returns host:port, defaulting the port to 22.
func (c Credentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// String renders the credentials without the secret.
func (c Credentials) String() string {
	return c.User + "@" + c.Addr()
}

// GoString keeps %#v from printing the secret.
func (c Credentials) GoString() string {
	return fmt.Sprintf("sshconn.Credentials{Host:%q, Port:%d, User:%q, Secret:\"****\"}", c.Host, c.Port, c.User)
}

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Handle is one live remote connection. Handles are not safe for concurrent
// use; callers serialize access per session.
type Handle interface {
	// Run executes command and waits for it to finish.
	Run(ctx context.Context, command string) (ExecResult, error)
	// OpenChannel starts command with a PTY and returns its streams.
	OpenChannel(ctx context.Context, command string) (Channel, error)
	// Alive sends one keepalive request and reports whether it was answered
	// before ctx ended or KeepaliveTimeout elapsed.
	Alive(ctx context.Context) bool
	Close() error
}

// Dialer opens new Handles. The gateway calls it for the initial login and
// for every reconnect.
type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Handle, error)
}

// SSHDialer dials real SSH servers with password authentication.
type SSHDialer struct {
	Timeout         time.Duration
	HostKeyCallback ssh.HostKeyCallback
}

// NewSSHDialer builds a dialer. When knownHostsPath is empty, host keys are
// accepted without verification.
func NewSSHDialer(timeout time.Duration, knownHostsPath string) (*SSHDialer, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	cb := ssh.InsecureIgnoreHostKey()
	if knownHostsPath != "" {
		var err error
		cb, err = knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", knownHostsPath, err)
		}
	}
	return &SSHDialer{Timeout: timeout, HostKeyCallback: cb}, nil
}

// Dial connects and authenticates. Authentication rejections wrap ErrAuth.
func (d *SSHDialer) Dial(ctx context.Context, creds Credentials) (Handle, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	secret := creds.Secret
	cfg := &ssh.ClientConfig{
		User: creds.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(secret),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = secret
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := creds.Addr()
	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The client config timeout only covers the TCP dial; bound the
	// handshake as well.
	netConn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s as %s", ErrAuth, addr, logutil.SanitizeForLog(creds.User))
		}
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	netConn.SetDeadline(time.Time{})

	log.Printf("[sshconn] connected to %s as %s", addr, logutil.SanitizeForLog(creds.User))
	return NewClient(ssh.NewClient(sshConn, chans, reqs)), nil
}

// Client is the Handle backed by an *ssh.Client.
type Client struct {
	client *ssh.Client
}

// NewClient wraps an established SSH client.
func NewClient(c *ssh.Client) *Client {
	return &Client{client: c}
}

// Run opens a fresh SSH session, runs command, and captures both streams.
// Cancelling ctx closes the session; the resulting error is a transport fault.
// A command that completed before the cancellation took effect is reported
// as completed.
func (c *Client) Run(ctx context.Context, command string) (ExecResult, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	runErr := session.Run(command)
	if runErr != nil && ctx.Err() != nil {
		return ExecResult{}, fmt.Errorf("run %q: %w", command, ctx.Err())
	}
	return finish(runErr, &outBuf, &errBuf)
}

// OpenChannel starts command on a PTY-backed session. Echo is disabled so the
// output stream carries only what the remote program prints.
func (c *Client) OpenChannel(ctx context.Context, command string) (Channel, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("vt100", 24, 200, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	ch := &sshChannel{session: session, stdin: stdin, ctx: ctx}
	session.Stdout = &ch.stdout
	session.Stderr = &ch.stderr

	if err := session.Start(command); err != nil {
		session.Close()
		return nil, fmt.Errorf("start %q: %w", command, err)
	}
	ch.stop = context.AfterFunc(ctx, func() { session.Close() })
	return ch, nil
}

// Alive sends a keepalive@openssh.com request. A half-open TCP connection
// never answers, so the wait is bounded.
func (c *Client) Alive(ctx context.Context) bool {
	done := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()

	timer := time.NewTimer(KeepaliveTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err == nil
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// finish converts a session's terminal error into an ExecResult. A remote
// nonzero exit is a result, not an error.
func finish(runErr error, stdout, stderr *bytes.Buffer) (ExecResult, error) {
	res := ExecResult{
		Stdout: decode(stdout.Bytes()),
		Stderr: decode(stderr.Bytes()),
	}
	if runErr == nil {
		return res, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		res.ExitStatus = exitErr.ExitStatus()
		return res, nil
	}
	return ExecResult{}, runErr
}

// decode turns remote bytes into text, replacing invalid UTF-8 instead of
// failing.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
