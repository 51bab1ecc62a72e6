// Package executor sends the collection command to a connected device.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nmslite/ifstats/internal/resolver"
)

// ErrEmptyOutput is returned when the device answers with nothing but
// whitespace or cluster context lines.
var ErrEmptyOutput = errors.New("command returned no output")

// contextLine matches Junos chassis-cluster prompts such as {primary:node0}.
var contextLine = regexp.MustCompile(`^\{[A-Za-z0-9:_-]+\}$`)

type Executor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Executor {
	return &Executor{logger: logger.With("component", "executor")}
}

// Run sends command over conn once, using the read timeout of the strategy
// that opened it, and returns the cleaned output.
func (e *Executor) Run(ctx context.Context, conn *resolver.Connection, command string) (string, error) {
	start := time.Now()
	raw, err := conn.Run(ctx, command, conn.Attempt.ReadTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to run command on %s: %w", conn.Attempt.Target, err)
	}

	out := Clean(raw)
	if out == "" {
		return "", fmt.Errorf("%s: %w", conn.Attempt.Target, ErrEmptyOutput)
	}

	e.logger.Debug("Command completed",
		"target", conn.Attempt.Target,
		"strategy", conn.Attempt.Strategy,
		"bytes", len(out),
		"duration", time.Since(start))
	return out, nil
}

// Clean drops cluster context lines and surrounding whitespace.
func Clean(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if contextLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
