// Package sshclient opens SSH command sessions to devices, directly or through
// a jump host.
package sshclient

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/nmslite/ifstats/internal/resolver"
)

// Dialer implements resolver.Dialer over golang.org/x/crypto/ssh.
type Dialer struct {
	hostKeyCallback ssh.HostKeyCallback
	logger          *slog.Logger
}

// NewDialer creates a dialer. With an empty knownHostsFile host keys are not
// verified.
func NewDialer(knownHostsFile string, logger *slog.Logger) (*Dialer, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		callback = cb
	}
	return &Dialer{
		hostKeyCallback: callback,
		logger:          logger.With("component", "ssh"),
	}, nil
}

// Dial connects to a.Target, relaying through a.Jump when set.
func (d *Dialer) Dial(ctx context.Context, a resolver.Attempt) (resolver.Session, error) {
	port := a.Port
	if port == 0 {
		port = 22
	}
	targetAddr := net.JoinHostPort(a.Target, strconv.Itoa(port))
	targetCfg := d.clientConfig(a.Username, a.Password, a.Timeout)

	if a.Jump == nil {
		client, err := d.dialDirect(ctx, targetAddr, targetCfg, a.Timeout)
		if err != nil {
			return nil, err
		}
		return newSession(client, nil, a.SessionLog), nil
	}

	jumpPort := a.Jump.Port
	if jumpPort == 0 {
		jumpPort = 22
	}
	jumpAddr := net.JoinHostPort(a.Jump.Address, strconv.Itoa(jumpPort))
	jumpCfg := d.clientConfig(a.Jump.Username, a.Jump.Password, a.Timeout)

	jump, err := d.dialDirect(ctx, jumpAddr, jumpCfg, a.Timeout)
	if err != nil {
		return nil, fmt.Errorf("jump host %s: %w", jumpAddr, err)
	}
	d.logger.Debug("Jump host connected", "jump_host", jumpAddr, "target", targetAddr)

	tunnelCtx := ctx
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		tunnelCtx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	conn, err := jump.DialContext(tunnelCtx, "tcp", targetAddr)
	if err != nil {
		jump.Close()
		return nil, fmt.Errorf("failed to open tunnel from %s to %s: %w", jumpAddr, targetAddr, err)
	}

	client, err := handshake(ctx, conn, targetAddr, targetCfg, a.Timeout)
	if err != nil {
		jump.Close()
		return nil, err
	}
	return newSession(client, jump, a.SessionLog), nil
}

func (d *Dialer) dialDirect(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return handshake(ctx, conn, addr, cfg, timeout)
}

// clientConfig offers password and keyboard-interactive auth with the same
// secret; Junos accepts either depending on its configuration.
func (d *Dialer) clientConfig(user, password string, timeout time.Duration) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         timeout,
	}
}

// handshake runs the SSH handshake over conn, bounded by timeout and ctx.
// Tunnelled connections do not support deadlines, so the bound is enforced by
// closing conn.
func handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		client *ssh.Client
		err    error
	}
	done := make(chan result, 1)

	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{client: ssh.NewClient(c, chans, reqs)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			conn.Close()
			return nil, fmt.Errorf("SSH handshake with %s failed: %w", addr, r.err)
		}
		return r.client, nil
	case <-ctx.Done():
		conn.Close()
		if r := <-done; r.client != nil {
			r.client.Close()
		}
		return nil, fmt.Errorf("SSH handshake with %s: %w", addr, ctx.Err())
	}
}
