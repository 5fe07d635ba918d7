package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/trapdoor-sh/trapdoor/internal/security"
)

func newTestExec(t *testing.T, maxOutput int64) *ExecGateway {
	t.Helper()
	return NewExecGateway(
		security.DefaultCommandRules(),
		security.NewPathResolver(nil, nil),
		5*time.Second,
		10*time.Second,
		maxOutput,
		testLogger(),
	)
}

func TestExecuteSimple(t *testing.T) {
	g := newTestExec(t, 1<<20)

	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "echo",
		Args:    []string{"hello", "world"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(res.Stdout) != "hello world" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}
	if res.Duration <= 0 {
		t.Error("duration should be positive")
	}
}

func TestExecuteNonZeroExit(t *testing.T) {
	g := newTestExec(t, 1<<20)

	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "sh",
		Args:    []string{"-c", "echo oops >&2; exit 3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecuteTimeout(t *testing.T) {
	g := newTestExec(t, 1<<20)

	start := time.Now()
	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "sleep",
		Args:    []string{"10"},
		Timeout: 300 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if KindOf(err) != KindTimedOut {
		t.Fatalf("kind = %v, want timed_out (err=%v)", KindOf(err), err)
	}
	if res == nil {
		t.Fatal("timeout should still return the partial result")
	}
	// Killed well before sleep would finish, with a little slack for
	// process teardown.
	if elapsed > 3*time.Second {
		t.Errorf("took %s, child apparently not killed", elapsed)
	}
}

func TestExecuteTimeoutKeepsPartialOutput(t *testing.T) {
	g := newTestExec(t, 1<<20)

	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "sh",
		Args:    []string{"-c", "echo before-sleep; sleep 10"},
		Timeout: 500 * time.Millisecond,
	})
	if KindOf(err) != KindTimedOut {
		t.Fatalf("kind = %v, want timed_out", KindOf(err))
	}
	if !strings.Contains(res.Stdout, "before-sleep") {
		t.Errorf("partial stdout lost: %q", res.Stdout)
	}
}

func TestExecuteTimeoutKillsProcessTree(t *testing.T) {
	g := newTestExec(t, 1<<20)

	// sh spawns sleep as a grandchild holding our output pipes. Killing
	// only sh would leave sleep running and block the call until it
	// exits on its own.
	start := time.Now()
	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "sh",
		Args:    []string{"-c", "echo early; sleep 8"},
		Timeout: 500 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if KindOf(err) != KindTimedOut {
		t.Fatalf("kind = %v, want timed_out (err=%v)", KindOf(err), err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("took %s, grandchild apparently survived the kill", elapsed)
	}
	if !strings.Contains(res.Stdout, "early") {
		t.Errorf("partial stdout lost: %q", res.Stdout)
	}
}

func TestExecuteTimeoutKillsShellModeTree(t *testing.T) {
	g := newTestExec(t, 1<<20)

	start := time.Now()
	_, err := g.Execute(context.Background(), ExecRequest{
		Command: "sleep 8; echo done",
		Shell:   true,
		Timeout: 500 * time.Millisecond,
	})
	elapsed := time.Since(start)

	if KindOf(err) != KindTimedOut {
		t.Fatalf("kind = %v, want timed_out (err=%v)", KindOf(err), err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("took %s, shell child tree apparently survived the kill", elapsed)
	}
}

func TestExecuteDenylisted(t *testing.T) {
	g := newTestExec(t, 1<<20)

	cases := []ExecRequest{
		{Command: "sudo", Args: []string{"id"}},
		{Command: "rm", Args: []string{"-rf", "/"}},
		{Command: "shutdown", Args: []string{"-h", "now"}},
	}
	for _, req := range cases {
		_, err := g.Execute(context.Background(), req)
		if KindOf(err) != KindDenied {
			t.Errorf("Execute(%s %v) kind = %v, want denied", req.Command, req.Args, KindOf(err))
		}
	}
}

func TestExecuteEmptyCommand(t *testing.T) {
	g := newTestExec(t, 1<<20)
	_, err := g.Execute(context.Background(), ExecRequest{Command: "  "})
	if KindOf(err) != KindDenied {
		t.Errorf("kind = %v, want denied", KindOf(err))
	}
}

func TestExecuteOutputTruncated(t *testing.T) {
	g := newTestExec(t, 64)

	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "sh",
		Args:    []string{"-c", "yes trapdoor | head -c 4096"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.StdoutTruncated {
		t.Error("expected stdout to be flagged truncated")
	}
	if len(res.Stdout) != 64 {
		t.Errorf("captured %d bytes, want 64", len(res.Stdout))
	}
}

func TestExecuteWorkingDirectory(t *testing.T) {
	g := newTestExec(t, 1<<20)
	dir := t.TempDir()

	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "pwd",
		Dir:     dir,
	})
	if err != nil {
		t.Fatal(err)
	}
	// The resolver canonicalizes, so compare resolved forms.
	want, werr := security.NewPathResolver(nil, nil).Resolve(dir, security.CategoryRead)
	if werr != nil {
		t.Fatal(werr)
	}
	if strings.TrimSpace(res.Stdout) != want {
		t.Errorf("pwd = %q, want %q", strings.TrimSpace(res.Stdout), want)
	}
}

func TestExecuteShellMode(t *testing.T) {
	g := newTestExec(t, 1<<20)

	res, err := g.Execute(context.Background(), ExecRequest{
		Command: "echo one && echo two",
		Shell:   true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Stdout, "one") || !strings.Contains(res.Stdout, "two") {
		t.Errorf("stdout = %q, want both lines", res.Stdout)
	}
}

func TestExecuteShellModeStillDenylisted(t *testing.T) {
	g := newTestExec(t, 1<<20)
	_, err := g.Execute(context.Background(), ExecRequest{
		Command: "sudo id",
		Shell:   true,
	})
	if KindOf(err) != KindDenied {
		t.Errorf("kind = %v, want denied", KindOf(err))
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	g := newTestExec(t, 1<<20)
	_, err := g.Execute(context.Background(), ExecRequest{Command: "definitely-not-a-binary-xyz"})
	if KindOf(err) != KindInternal {
		t.Errorf("kind = %v, want internal", KindOf(err))
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	if _, err := b.Write([]byte("ab")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("cdef")); err != nil {
		t.Fatal(err)
	}
	if b.String() != "abcd" {
		t.Errorf("buffer = %q, want abcd", b.String())
	}
	if !b.Truncated() {
		t.Error("expected truncation flag")
	}
}
