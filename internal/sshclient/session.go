package sshclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// closeGrace bounds the wait for a session's I/O to drain after it is closed.
const closeGrace = 5 * time.Second

// Session runs commands over one SSH connection. Output is copied to the
// session log when one is attached.
type Session struct {
	client *ssh.Client
	jump   *ssh.Client
	log    io.Writer
}

func newSession(client, jump *ssh.Client, log io.Writer) *Session {
	return &Session{client: client, jump: jump, log: log}
}

// Run executes command in a new exec channel and returns its stdout. The call
// fails when readTimeout elapses or ctx is done before the command exits.
func (s *Session) Run(ctx context.Context, command string, readTimeout time.Duration) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = s.tee(&stdout)
	sess.Stderr = s.tee(&stderr)

	if s.log != nil {
		fmt.Fprintf(s.log, "> %s\n", command)
	}

	if err := sess.Start(command); err != nil {
		return "", fmt.Errorf("failed to start %q: %w", command, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	var timeout <-chan time.Time
	if readTimeout > 0 {
		timer := time.NewTimer(readTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			return stdout.String(), fmt.Errorf("command %q failed: %w (stderr: %s)", command, err, msg)
		}
		return stdout.String(), nil
	case <-timeout:
		s.abort(sess, done)
		return "", fmt.Errorf("command %q timed out after %v", command, readTimeout)
	case <-ctx.Done():
		s.abort(sess, done)
		return "", ctx.Err()
	}
}

func (s *Session) abort(sess *ssh.Session, done <-chan error) {
	sess.Close()
	select {
	case <-done:
	case <-time.After(closeGrace):
	}
}

func (s *Session) tee(buf *bytes.Buffer) io.Writer {
	if s.log == nil {
		return buf
	}
	return io.MultiWriter(buf, s.log)
}

// Close closes the device connection and the jump host connection, if any.
func (s *Session) Close() error {
	err := s.client.Close()
	if s.jump != nil {
		if jerr := s.jump.Close(); err == nil {
			err = jerr
		}
	}
	return err
}
