// Package pipeline runs the collection batch: connect, execute, extract and
// record, one host at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nmslite/ifstats/internal/extractor"
	"github.com/nmslite/ifstats/internal/model"
	"github.com/nmslite/ifstats/internal/resolver"
	"github.com/nmslite/ifstats/internal/sink"
	"github.com/nmslite/ifstats/internal/sshclient"
)

const (
	StageConnect = "connect"
	StageExecute = "execute"
	StageExtract = "extract"
	stageSink    = "sink:"
)

// Resolver opens a session to a host.
type Resolver interface {
	Resolve(ctx context.Context, host model.HostEntry, sessionLog io.Writer) (*resolver.Connection, error)
}

// Executor sends the collection command over an open connection.
type Executor interface {
	Run(ctx context.Context, conn *resolver.Connection, command string) (string, error)
}

// HostFailure is a per-host error and the stage it happened in.
type HostFailure struct {
	Host  string
	Stage string
	Err   error
}

func (f HostFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Host, f.Stage, f.Err)
}

func (f HostFailure) Unwrap() error { return f.Err }

// Report summarizes a run.
type Report struct {
	RunID     uuid.UUID
	Hosts     int
	Succeeded int
	Records   int
	Failed    []HostFailure
	Duration  time.Duration
}

// Options tune a Runner.
type Options struct {
	RunID         uuid.UUID
	SessionLogDir string
}

// Runner processes hosts sequentially.
type Runner struct {
	resolver Resolver
	executor Executor
	schema   extractor.Schema
	sinks    []sink.Sink
	opts     Options
	logger   *slog.Logger

	now     func() time.Time
	openLog func(dir, key string) (io.WriteCloser, error)
}

func New(res Resolver, exec Executor, schema extractor.Schema, sinks []sink.Sink, opts Options, logger *slog.Logger) *Runner {
	return &Runner{
		resolver: res,
		executor: exec,
		schema:   schema,
		sinks:    sinks,
		opts:     opts,
		logger:   logger.With("component", "pipeline"),
		now:      time.Now,
		openLog: func(dir, key string) (io.WriteCloser, error) {
			return sshclient.OpenSessionLog(dir, key)
		},
	}
}

// Run collects every host in order. Host failures are recorded in the report
// and the batch continues; a fatal sink error or a canceled context stops the
// run and is returned together with the partial report.
func (r *Runner) Run(ctx context.Context, hosts []model.HostEntry) (Report, error) {
	start := r.now()
	report := Report{RunID: r.opts.RunID, Hosts: len(hosts)}

	r.logger.Info("Collection started",
		"hosts", len(hosts),
		"variant", r.schema.Variant,
		"sinks", len(r.sinks))

	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return r.finish(report, start), err
		}

		records, failures, err := r.collect(ctx, host)
		report.Records += records
		report.Failed = append(report.Failed, failures...)
		if err != nil {
			return r.finish(report, start), err
		}
		if len(failures) == 0 {
			report.Succeeded++
		}
	}

	return r.finish(report, start), nil
}

func (r *Runner) finish(report Report, start time.Time) Report {
	report.Duration = r.now().Sub(start)
	r.logger.Info("Collection finished",
		"hosts", report.Hosts,
		"succeeded", report.Succeeded,
		"failed_hosts", len(report.Failed),
		"records", report.Records,
		"duration", report.Duration)
	return report
}

// CheckResult is the connectivity outcome of one host.
type CheckResult struct {
	Host     string
	Strategy string
	Target   string
	Err      error
}

// Check connects to every host without running the collection command and
// reports which strategy reached it.
func (r *Runner) Check(ctx context.Context, hosts []model.HostEntry) ([]CheckResult, error) {
	results := make([]CheckResult, 0, len(hosts))
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := CheckResult{Host: host.Key()}
		conn, err := r.resolver.Resolve(ctx, host, nil)
		if err != nil {
			res.Err = err
			r.logger.Warn("Host unreachable", "host", res.Host, "error", err)
		} else {
			res.Strategy = conn.Attempt.Strategy
			res.Target = conn.Attempt.Target
			conn.Close()
		}
		results = append(results, res)
	}
	return results, nil
}

// collect processes one host. The returned error is non-nil only when the
// run must stop.
func (r *Runner) collect(ctx context.Context, host model.HostEntry) (int, []HostFailure, error) {
	key := host.Key()
	logger := r.logger.With("host", key)

	var transcript io.Writer
	if r.opts.SessionLogDir != "" {
		f, err := r.openLog(r.opts.SessionLogDir, key)
		if err != nil {
			logger.Warn("Session log unavailable", "error", err)
		} else {
			defer f.Close()
			transcript = f
		}
	}

	fail := func(stage string, err error) []HostFailure {
		logger.Error("Host failed", "stage", stage, "error", err)
		return []HostFailure{{Host: key, Stage: stage, Err: err}}
	}

	conn, err := r.resolver.Resolve(ctx, host, transcript)
	if err != nil {
		return 0, fail(StageConnect, err), ctx.Err()
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug("Failed to close session", "error", err)
		}
	}()

	raw, err := r.executor.Run(ctx, conn, r.schema.Command)
	if err != nil {
		return 0, fail(StageExecute, err), ctx.Err()
	}

	records, err := extractor.Extract(raw, r.schema, r.now())
	if err != nil {
		return 0, fail(StageExtract, err), nil
	}
	if len(records) == 0 {
		logger.Warn("No matching interfaces in output", "prefixes", extractor.InterfacePrefixes)
	}
	for _, rec := range records {
		if missing := extractor.Missing(rec); len(missing) > 0 {
			logger.Info("Counters not reported, recorded as sentinel",
				"interface", rec.Interface,
				"fields", missing)
		}
	}

	var failures []HostFailure
	for _, s := range r.sinks {
		err := s.Write(ctx, key, r.schema, records)
		if err == nil {
			continue
		}
		failures = append(failures, fail(stageSink+s.Name(), err)...)
		if errors.Is(err, sink.ErrFatal) {
			return len(records), failures, err
		}
	}

	if len(failures) == 0 {
		logger.Info("Host collected", "interfaces", len(records))
	}
	return len(records), failures, nil
}
