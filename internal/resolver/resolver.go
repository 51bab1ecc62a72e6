// Package resolver turns a host entry into a live command session by trying
// an ordered list of connection strategies.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nmslite/ifstats/internal/config"
	"github.com/nmslite/ifstats/internal/credentials"
	"github.com/nmslite/ifstats/internal/model"
)

// ErrNoStrategy is returned when no strategy can address the host.
var ErrNoStrategy = errors.New("no connection strategy applies to host")

// Session runs commands on a connected device.
type Session interface {
	Run(ctx context.Context, command string, readTimeout time.Duration) (string, error)
	Close() error
}

// Dialer opens a session for one connection attempt.
type Dialer interface {
	Dial(ctx context.Context, a Attempt) (Session, error)
}

// Selector names the HostEntry field a strategy connects to.
type Selector string

const (
	SelectHostname Selector = "hostname"
	SelectAddress  Selector = "address"
)

// JumpHost is an intermediate SSH server relaying the session. Empty
// credentials reuse the device credentials.
type JumpHost struct {
	Address  string
	Port     int
	Username string
	Password string
}

// Strategy describes one way of reaching a device.
type Strategy struct {
	Name        string
	Selector    Selector
	Port        int
	Timeout     time.Duration
	ReadTimeout time.Duration
	Jump        *JumpHost
}

// Attempt is one concrete connection try derived from a strategy and a host.
type Attempt struct {
	Strategy    string
	Target      string
	Auxiliary   string
	Username    string
	Password    string
	Port        int
	Timeout     time.Duration
	ReadTimeout time.Duration
	Jump        *JumpHost
	SessionLog  io.Writer
}

// Connection is a live session and the attempt that opened it.
type Connection struct {
	Session
	Attempt Attempt
}

// AttemptError records the failure of one strategy.
type AttemptError struct {
	Strategy string
	Target   string
	Err      error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s attempt to %s failed: %v", e.Strategy, e.Target, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Resolver tries strategies in order until one yields a session.
type Resolver struct {
	strategies []Strategy
	dialer     Dialer
	creds      credentials.Credentials
	logger     *slog.Logger
}

// New creates a resolver trying strategies in the given order.
func New(dialer Dialer, creds credentials.Credentials, logger *slog.Logger, strategies ...Strategy) *Resolver {
	return &Resolver{
		strategies: strategies,
		dialer:     dialer,
		creds:      creds,
		logger:     logger.With("component", "resolver"),
	}
}

// Strategies returns the configured strategies.
func (r *Resolver) Strategies() []Strategy {
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Resolve connects to host. Strategies whose selector the host lacks are
// skipped; every failed attempt is logged and the next strategy is tried. The
// returned error joins all attempt failures.
func (r *Resolver) Resolve(ctx context.Context, host model.HostEntry, sessionLog io.Writer) (*Connection, error) {
	if !host.Valid() {
		return nil, fmt.Errorf("%w: host entry has neither hostname nor address", ErrNoStrategy)
	}

	var failures []error
	for _, s := range r.strategies {
		attempt, ok := r.attemptFor(s, host, sessionLog)
		if !ok {
			r.logger.Debug("Strategy not applicable", "host", host.Key(), "strategy", s.Name)
			continue
		}

		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}

		logAttempt(sessionLog, attempt)
		r.logger.Debug("Connecting",
			"host", host.Key(),
			"strategy", attempt.Strategy,
			"target", attempt.Target,
			"timeout", attempt.Timeout,
			"jump_host", jumpAddress(attempt.Jump),
		)

		session, err := r.dialer.Dial(ctx, attempt)
		if err == nil {
			r.logger.Info("Connected",
				"host", host.Key(),
				"strategy", attempt.Strategy,
				"target", attempt.Target,
			)
			return &Connection{Session: session, Attempt: attempt}, nil
		}

		attemptErr := &AttemptError{Strategy: attempt.Strategy, Target: attempt.Target, Err: err}
		failures = append(failures, attemptErr)
		if sessionLog != nil {
			fmt.Fprintf(sessionLog, "### %s\n", attemptErr.Error())
		}
		r.logger.Warn("Connection attempt failed",
			"host", host.Key(),
			"strategy", attempt.Strategy,
			"target", attempt.Target,
			"error", err,
		)
	}

	if len(failures) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStrategy, host.Key())
	}
	return nil, errors.Join(failures...)
}

func (r *Resolver) attemptFor(s Strategy, host model.HostEntry, sessionLog io.Writer) (Attempt, bool) {
	var target, aux string
	switch {
	case s.Selector == SelectHostname && host.HasHostname():
		target, aux = host.Hostname, host.Address
	case s.Selector == SelectAddress && host.HasAddress():
		target, aux = host.Address, host.Hostname
	default:
		return Attempt{}, false
	}

	var jump *JumpHost
	if s.Jump != nil && s.Jump.Address != "" {
		j := *s.Jump
		if j.Port == 0 {
			j.Port = 22
		}
		if j.Username == "" {
			j.Username = r.creds.Username
		}
		if j.Password == "" {
			j.Password = r.creds.Password
		}
		jump = &j
	}

	return Attempt{
		Strategy:    s.Name,
		Target:      target,
		Auxiliary:   aux,
		Username:    r.creds.Username,
		Password:    r.creds.Password,
		Port:        s.Port,
		Timeout:     s.Timeout,
		ReadTimeout: s.ReadTimeout,
		Jump:        jump,
		SessionLog:  sessionLog,
	}, true
}

func logAttempt(w io.Writer, a Attempt) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "### %s %s attempt to %s:%d", time.Now().Format(time.RFC3339), a.Strategy, a.Target, a.Port)
	if a.Auxiliary != "" {
		fmt.Fprintf(w, " (aux %s)", a.Auxiliary)
	}
	if a.Jump != nil {
		fmt.Fprintf(w, " via %s", jumpAddress(a.Jump))
	}
	fmt.Fprintln(w)
}

func jumpAddress(j *JumpHost) string {
	if j == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", j.Address, j.Port)
}

// FromConfig builds the primary (hostname) and fallback (address) strategies.
func FromConfig(cfg config.ConnectionConfig) []Strategy {
	return []Strategy{
		{
			Name:        "primary",
			Selector:    SelectHostname,
			Port:        cfg.Port,
			Timeout:     cfg.Primary.Timeout(),
			ReadTimeout: cfg.Primary.ReadTimeout(),
			Jump:        jumpFromConfig(cfg.Primary.JumpHost),
		},
		{
			Name:        "fallback",
			Selector:    SelectAddress,
			Port:        cfg.Port,
			Timeout:     cfg.Fallback.Timeout(),
			ReadTimeout: cfg.Fallback.ReadTimeout(),
			Jump:        jumpFromConfig(cfg.Fallback.JumpHost),
		},
	}
}

func jumpFromConfig(j config.JumpHostConfig) *JumpHost {
	if j.Address == "" {
		return nil
	}
	return &JumpHost{
		Address:  j.Address,
		Port:     j.Port,
		Username: j.Username,
		Password: j.Password,
	}
}
