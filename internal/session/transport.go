package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os/exec"
	"time"
)

// Transport is the byte stream the session speaks the line protocol over.
type Transport interface {
	io.ReadWriteCloser
}

// DialFunc establishes a fresh transport. Each pipeline run dials once.
type DialFunc func(ctx context.Context) (Transport, error)

// TCPDialer connects to a remote endpoint, optionally wrapping the
// connection in TLS.
func TCPDialer(addr string, useTLS bool, timeout time.Duration) DialFunc {
	return func(ctx context.Context) (Transport, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if !useTLS {
			return conn, nil
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		tc := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		return tc, nil
	}
}

// ChildDialer starts a persistent child process that speaks the protocol
// over its stdin/stdout pipes. The process outlives the dial context and is
// torn down by Close.
func ChildDialer(name string, args ...string) DialFunc {
	return func(ctx context.Context) (Transport, error) {
		cmd := exec.Command(name, args...)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
		return &childTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
	}
}

type childTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (t *childTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *childTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// Close shuts the child down: closing stdin signals EOF, and if the process
// does not exit within a grace period it is killed.
func (t *childTransport) Close() error {
	t.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.cmd.Process.Kill()
		return <-done
	}
}
