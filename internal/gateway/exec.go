package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/trapdoor-sh/trapdoor/internal/security"
)

// ExecRequest describes one command execution.
type ExecRequest struct {
	// Command and Args form the argv; Args are passed discretely, never
	// concatenated through a shell.
	Command string
	Args    []string
	// Dir is the working directory; empty means the process default.
	Dir string
	// Timeout bounds wall-clock runtime; zero uses the gateway default.
	Timeout time.Duration
	// Shell runs the whole command line through "sh -c". Higher risk:
	// the caller opts into shell interpretation, and the denylist is the
	// only thing standing between the line and the shell.
	Shell bool
}

// ExecResult is the outcome of a completed (or killed) command.
type ExecResult struct {
	ExitCode        int           `json:"exit_code"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	Duration        time.Duration `json:"duration"`
	StdoutTruncated bool          `json:"stdout_truncated,omitempty"`
	StderrTruncated bool          `json:"stderr_truncated,omitempty"`
}

// ExecGateway runs commands as child processes under a denylist, a
// wall-clock timeout, and output capture ceilings.
type ExecGateway struct {
	rules          *security.CommandRules
	resolver       *security.PathResolver
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	maxOutput      int64
	logger         *slog.Logger
}

// NewExecGateway creates an execution gateway.
func NewExecGateway(rules *security.CommandRules, resolver *security.PathResolver,
	defaultTimeout, maxTimeout time.Duration, maxOutput int64, logger *slog.Logger) *ExecGateway {
	return &ExecGateway{
		rules:          rules,
		resolver:       resolver,
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		maxOutput:      maxOutput,
		logger:         logger.With("component", "exec"),
	}
}

// OutputSink receives command output as it is produced. The stream name is
// "stdout" or "stderr". The chunk is only valid for the duration of the
// call.
type OutputSink func(stream string, chunk []byte)

// Execute runs the request and captures its output. Timeouts kill the
// child and report timed_out together with whatever output was captured.
func (g *ExecGateway) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return g.execute(ctx, req, nil)
}

// ExecuteStream behaves like Execute but additionally forwards output to
// the sink as the command produces it.
func (g *ExecGateway) ExecuteStream(ctx context.Context, req ExecRequest, sink OutputSink) (*ExecResult, error) {
	return g.execute(ctx, req, sink)
}

func (g *ExecGateway) execute(ctx context.Context, req ExecRequest, sink OutputSink) (*ExecResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, E(KindDenied, "empty command")
	}

	cmdline := req.Command
	if len(req.Args) > 0 {
		cmdline += " " + strings.Join(req.Args, " ")
	}
	if name := g.rules.Check(cmdline); name != "" {
		g.logger.Warn("command denied", "rule", name, "command", req.Command)
		return nil, E(KindDenied, "command matched denylist rule %q", name)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.defaultTimeout
	}
	if timeout > g.maxTimeout {
		timeout = g.maxTimeout
	}

	dir := ""
	if req.Dir != "" {
		resolved, err := g.resolver.Resolve(req.Dir, security.CategoryRead)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if req.Shell {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	} else {
		cmd = exec.CommandContext(ctx, req.Command, req.Args...)
	}
	cmd.Dir = dir

	// A killed child can leave grandchildren holding the output pipes,
	// which would block Wait past the timeout. Put the whole tree in one
	// process group so the kill reaches it, and bound Wait regardless.
	setProcessGroup(cmd)
	cmd.WaitDelay = time.Second

	stdout := newCappedBuffer(g.maxOutput)
	stderr := newCappedBuffer(g.maxOutput)
	if sink != nil {
		cmd.Stdout = io.MultiWriter(stdout, sinkWriter{sink: sink, stream: "stdout"})
		cmd.Stderr = io.MultiWriter(stderr, sinkWriter{sink: sink, stream: "stderr"})
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	result := &ExecResult{
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		Duration:        elapsed,
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		g.logger.Warn("command timed out", "command", req.Command, "timeout", timeout)
		return result, E(KindTimedOut, "command timed out after %s", timeout)
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, wrapE(KindInternal, runErr, "failed to run %s", req.Command)
		}
	}

	g.logger.Debug("command finished",
		"command", req.Command,
		"exit_code", result.ExitCode,
		"duration", elapsed,
	)
	return result, nil
}

// sinkWriter adapts an OutputSink to io.Writer for one stream.
type sinkWriter struct {
	sink   OutputSink
	stream string
}

func (w sinkWriter) Write(p []byte) (int, error) {
	w.sink(w.stream, p)
	return len(p), nil
}

// cappedBuffer keeps the first max bytes written and drops the rest,
// recording that truncation happened.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int64
	truncated bool
}

func newCappedBuffer(max int64) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.max - int64(len(b.buf))
	if remaining <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *cappedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
