package resolver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/nmslite/ifstats/internal/config"
	"github.com/nmslite/ifstats/internal/credentials"
	"github.com/nmslite/ifstats/internal/model"
)

type fakeSession struct{ closed bool }

func (s *fakeSession) Run(context.Context, string, time.Duration) (string, error) { return "", nil }
func (s *fakeSession) Close() error                                               { s.closed = true; return nil }

// fakeDialer records attempts and fails for targets listed in fail.
type fakeDialer struct {
	fail     map[string]bool
	attempts []Attempt
}

func (d *fakeDialer) Dial(_ context.Context, a Attempt) (Session, error) {
	d.attempts = append(d.attempts, a)
	if d.fail[a.Target] {
		return nil, errors.New("ssh: handshake failed: unable to authenticate")
	}
	return &fakeSession{}, nil
}

func testResolver(d Dialer) *Resolver {
	cfg := config.Default().Connection
	cfg.Fallback.JumpHost = config.JumpHostConfig{Address: "10.10.0.222"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	creds := credentials.Credentials{Username: "netops", Password: "pw"}
	return New(d, creds, logger, FromConfig(cfg)...)
}

func TestResolve_PrimarySucceeds(t *testing.T) {
	d := &fakeDialer{}
	conn, err := testResolver(d).Resolve(context.Background(), model.HostEntry{Hostname: "r1", Address: "10.0.0.1"}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(d.attempts) != 1 {
		t.Fatalf("got %d attempts, want 1", len(d.attempts))
	}
	a := conn.Attempt
	if a.Strategy != "primary" || a.Target != "r1" || a.Auxiliary != "10.0.0.1" {
		t.Errorf("unexpected attempt %+v", a)
	}
	if a.Timeout != 30*time.Second || a.ReadTimeout != 30*time.Second {
		t.Errorf("primary timeouts = %v/%v, want 30s/30s", a.Timeout, a.ReadTimeout)
	}
	if a.Jump != nil {
		t.Errorf("primary should not use a jump host, got %+v", a.Jump)
	}
}

func TestResolve_FallbackAfterPrimaryFailure(t *testing.T) {
	d := &fakeDialer{fail: map[string]bool{"r1": true}}
	var transcript bytes.Buffer

	conn, err := testResolver(d).Resolve(context.Background(), model.HostEntry{Hostname: "r1", Address: "10.0.0.1"}, &transcript)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(d.attempts) != 2 {
		t.Fatalf("got %d attempts, want 2", len(d.attempts))
	}

	a := conn.Attempt
	if a.Strategy != "fallback" || a.Target != "10.0.0.1" {
		t.Errorf("unexpected attempt %+v", a)
	}
	if a.Timeout != 90*time.Second || a.ReadTimeout != 90*time.Second {
		t.Errorf("fallback timeouts = %v/%v, want 90s/90s", a.Timeout, a.ReadTimeout)
	}
	if a.Jump == nil || a.Jump.Address != "10.10.0.222" || a.Jump.Port != 22 {
		t.Fatalf("fallback jump host = %+v", a.Jump)
	}
	if a.Jump.Username != "netops" || a.Jump.Password != "pw" {
		t.Errorf("jump host should reuse device credentials, got %q/%q", a.Jump.Username, a.Jump.Password)
	}
	if !strings.Contains(transcript.String(), "primary attempt to r1") {
		t.Errorf("session log missing primary attempt: %s", transcript.String())
	}
}

func TestResolve_HostnameOnlyNoFallback(t *testing.T) {
	d := &fakeDialer{fail: map[string]bool{"r1": true}}

	_, err := testResolver(d).Resolve(context.Background(), model.HostEntry{Hostname: "r1"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(d.attempts) != 1 {
		t.Fatalf("got %d attempts, want exactly 1", len(d.attempts))
	}
	var attemptErr *AttemptError
	if !errors.As(err, &attemptErr) || attemptErr.Strategy != "primary" {
		t.Errorf("expected primary AttemptError, got %v", err)
	}
}

func TestResolve_AddressOnlySkipsPrimary(t *testing.T) {
	d := &fakeDialer{}

	conn, err := testResolver(d).Resolve(context.Background(), model.HostEntry{Address: "10.0.0.5"}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(d.attempts) != 1 {
		t.Fatalf("got %d attempts, want 1", len(d.attempts))
	}
	if d.attempts[0].Strategy != "fallback" || d.attempts[0].Target != "10.0.0.5" {
		t.Errorf("unexpected attempt %+v", d.attempts[0])
	}
	if conn.Attempt.Auxiliary != "" {
		t.Errorf("Auxiliary = %q, want empty", conn.Attempt.Auxiliary)
	}
}

func TestResolve_AllStrategiesFail(t *testing.T) {
	d := &fakeDialer{fail: map[string]bool{"r1": true, "10.0.0.1": true}}

	_, err := testResolver(d).Resolve(context.Background(), model.HostEntry{Hostname: "r1", Address: "10.0.0.1"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"primary attempt to r1", "fallback attempt to 10.0.0.1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestResolve_EmptyHost(t *testing.T) {
	d := &fakeDialer{}
	_, err := testResolver(d).Resolve(context.Background(), model.HostEntry{}, nil)
	if !errors.Is(err, ErrNoStrategy) {
		t.Fatalf("expected ErrNoStrategy, got %v", err)
	}
	if len(d.attempts) != 0 {
		t.Errorf("dialed %d times for an empty host", len(d.attempts))
	}
}

func TestResolver_Strategies(t *testing.T) {
	r := testResolver(&fakeDialer{})
	got := r.Strategies()
	if len(got) != 2 || got[0].Name != "primary" || got[1].Name != "fallback" {
		t.Fatalf("Strategies() = %+v", got)
	}
	if got[0].Selector != SelectHostname || got[1].Selector != SelectAddress {
		t.Errorf("selectors = %s/%s", got[0].Selector, got[1].Selector)
	}
	if got[1].Jump == nil || got[1].Jump.Address != "10.10.0.222" {
		t.Errorf("fallback jump = %+v", got[1].Jump)
	}

	got[0].Name = "changed"
	if r.Strategies()[0].Name != "primary" {
		t.Error("Strategies() exposes internal slice")
	}
}

func TestResolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &fakeDialer{}

	_, err := testResolver(d).Resolve(ctx, model.HostEntry{Hostname: "r1", Address: "10.0.0.1"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(d.attempts) != 0 {
		t.Errorf("got %d attempts after cancel, want 0", len(d.attempts))
	}
}

func TestResolve_ExplicitJumpCredentials(t *testing.T) {
	d := &fakeDialer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(d, credentials.Credentials{Username: "netops", Password: "pw"}, logger, Strategy{
		Name:     "bastion",
		Selector: SelectAddress,
		Port:     22,
		Jump:     &JumpHost{Address: "192.0.2.10", Port: 2222, Username: "jump", Password: "jpw"},
	})

	conn, err := r.Resolve(context.Background(), model.HostEntry{Address: "10.0.0.1"}, nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	j := conn.Attempt.Jump
	if j.Username != "jump" || j.Password != "jpw" || j.Port != 2222 {
		t.Errorf("jump host = %+v", j)
	}
	if conn.Attempt.Username != "netops" {
		t.Errorf("device username = %q", conn.Attempt.Username)
	}
}
