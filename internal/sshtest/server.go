// Package sshtest runs an in-process SSH server that imitates the remote
// conferencing host closely enough for end-to-end tests: password login, a
// small in-memory file store behind `cat`, and a `post` command that reads a
// dot-terminated reply body.
package sshtest

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// ExecFunc handles one exec request and returns the exit status.
type ExecFunc func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int

// Post is a reply received by the fake `post` command.
type Post struct {
	Conference string
	Topic      string
	Lines      []string
}

type route struct {
	prefix string
	fn     ExecFunc
}

// Server is a running fake SSH host.
type Server struct {
	Host     string
	Port     int
	User     string
	Password string

	listener net.Listener
	config   *ssh.ServerConfig
	done     chan struct{}

	mu     sync.Mutex
	conns  []net.Conn
	files  map[string]string
	routes []route
	posts  []Post
	execs  []string
	logins int
}

// NewServer starts a server on 127.0.0.1 that accepts exactly one
// user/password pair. It is closed automatically when the test ends.
func NewServer(t testing.TB, user, password string) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	s := &Server{
		User:     user,
		Password: password,
		files:    make(map[string]string),
		done:     make(chan struct{}),
	}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if conn.User() == s.User && string(pw) == s.Password {
				s.mu.Lock()
				s.logins++
				s.mu.Unlock()
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
	}
	s.config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s.listener = listener
	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	s.Host = host
	s.Port, _ = strconv.Atoi(portStr)

	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, netConn)
		s.mu.Unlock()
		go s.handleConn(netConn)
	}
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	s.listener.Close()
	s.DropConnections()
	<-s.done
}

// DropConnections closes every accepted TCP connection, which clients observe
// as a transport fault on their next request. New logins are still accepted.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Handle registers fn for commands starting with prefix. Later registrations
// take precedence over earlier ones and over the built-in commands.
func (s *Server) Handle(prefix string, fn ExecFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{prefix: prefix, fn: fn})
}

// SetFile seeds the fake file store.
func (s *Server) SetFile(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
}

// File returns the stored content for path.
func (s *Server) File(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[path]
	return content, ok
}

// Posts returns the replies received so far.
func (s *Server) Posts() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Post(nil), s.posts...)
}

// Execs returns every command the server has been asked to run.
func (s *Server) Execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

// Logins returns the number of successful authentications.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) handleConn(netConn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	started := false
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || started {
				req.Reply(false, nil)
				continue
			}
			started = true
			req.Reply(true, nil)
			go func(cmd string) {
				status := s.exec(cmd, ch, ch, ch.Stderr())
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
				ch.Close()
			}(payload.Command)
		default:
			// pty-req, env and friends are accepted and ignored.
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}
}

func (s *Server) exec(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
	s.mu.Lock()
	s.execs = append(s.execs, cmd)
	var fn ExecFunc
	for i := len(s.routes) - 1; i >= 0; i-- {
		if strings.HasPrefix(cmd, s.routes[i].prefix) {
			fn = s.routes[i].fn
			break
		}
	}
	s.mu.Unlock()

	if fn != nil {
		return fn(cmd, stdin, stdout, stderr)
	}
	return s.builtin(cmd, stdin, stdout, stderr)
}

func (s *Server) builtin(cmd string, stdin io.Reader, stdout, stderr io.Writer) int {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return 0
	}

	switch {
	case fields[0] == "cat" && len(fields) == 3 && fields[1] == ">":
		data, err := io.ReadAll(stdin)
		if err != nil {
			fmt.Fprintf(stderr, "cat: read error: %v\n", err)
			return 1
		}
		s.SetFile(fields[2], string(data))
		return 0

	case fields[0] == "cat" && len(fields) == 2:
		content, ok := s.File(fields[1])
		if !ok {
			fmt.Fprintf(stderr, "cat: %s: No such file or directory\n", fields[1])
			return 1
		}
		io.WriteString(stdout, content)
		return 0

	case fields[0] == "post" && len(fields) == 4 && fields[1] == "-n":
		post := Post{Conference: fields[2], Topic: fields[3]}
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), "\r")
			if line == "." {
				break
			}
			post.Lines = append(post.Lines, line)
		}
		s.mu.Lock()
		s.posts = append(s.posts, post)
		s.mu.Unlock()
		io.WriteString(stdout, "Response entered.\n")
		return 0

	case fields[0] == "echo":
		io.WriteString(stdout, strings.Join(fields[1:], " ")+"\n")
		return 0

	case fields[0] == "exit" && len(fields) == 2:
		code, _ := strconv.Atoi(fields[1])
		return code
	}

	fmt.Fprintf(stderr, "sh: 1: %s: not found\n", fields[0])
	return 127
}
