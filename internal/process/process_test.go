package process

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// launchShell starts a shell fixture with a short grace window.
func launchShell(t *testing.T, script string, opts ...Option) *Handle {
	t.Helper()
	opts = append([]Option{
		WithLogger(testLogger()),
		WithGracefulTimeout(100 * time.Millisecond),
	}, opts...)
	h, err := Launch("test", "sh", []string{"-c", script}, opts...)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	return h
}

// waitForExit waits for the exit status with a timeout, failing the test on timeout.
func waitForExit(t *testing.T, h *Handle, timeout time.Duration) ExitStatus {
	t.Helper()
	select {
	case <-h.Done():
		return h.Status()
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
		return ExitStatus{}
	}
}

func TestLaunchAndExit(t *testing.T) {
	h := launchShell(t, "exit 0")
	status := waitForExit(t, h, 1*time.Second)
	if status.Code != 0 {
		t.Errorf("expected exit code 0, got %d", status.Code)
	}
	if status.Signal != "" {
		t.Errorf("expected no signal for clean exit, got %q", status.Signal)
	}
}

func TestExitCode(t *testing.T) {
	h := launchShell(t, "exit 42")
	status := waitForExit(t, h, 1*time.Second)
	if status.Code != 42 {
		t.Errorf("expected exit code 42, got %d", status.Code)
	}
	if status.Err == nil {
		t.Error("expected error for nonzero exit")
	}
}

func TestGracefulStop(t *testing.T) {
	h := launchShell(t, `trap 'exit 0' INT TERM; while :; do sleep 0.1; done`,
		WithGracefulTimeout(500*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	h.Stop()
	status := waitForExit(t, h, 1*time.Second)
	if status.Code != 0 {
		t.Errorf("expected exit code 0 after graceful stop, got %d", status.Code)
	}
}

func TestForceKillOnTimeout(t *testing.T) {
	// Process that ignores SIGINT
	h := launchShell(t, `trap '' INT; sleep 10`, WithGracefulTimeout(50*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	h.Stop()
	status := waitForExit(t, h, 2*time.Second)
	if status.Code != KilledExitCode {
		t.Errorf("expected exit code 137, got %d", status.Code)
	}
	if status.Signal != "killed" {
		t.Errorf("expected killed signal, got %q", status.Signal)
	}
}

func TestStopEscalationCancelled(t *testing.T) {
	h := launchShell(t, `trap 'exit 0' INT TERM; while :; do sleep 0.1; done`,
		WithGracefulTimeout(5*time.Second))
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	h.Stop()
	waitForExit(t, h, 1*time.Second)

	// Exit fired well inside the grace window, so the kill never runs.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("stop took too long: %v", elapsed)
	}
}

func TestKill(t *testing.T) {
	h := launchShell(t, "sleep 10")
	time.Sleep(50 * time.Millisecond)

	h.Kill()
	status := waitForExit(t, h, 1*time.Second)
	if status.Code != KilledExitCode {
		t.Errorf("expected exit code 137, got %d", status.Code)
	}
}

func TestRunningAndStatus(t *testing.T) {
	h := launchShell(t, "sleep 10")
	time.Sleep(50 * time.Millisecond)

	if !h.Running() {
		t.Error("expected process to be running")
	}
	if status := h.Status(); status.Code != 0 || status.Err != nil {
		t.Errorf("expected zero status before exit, got %+v", status)
	}
	if h.PID() == 0 {
		t.Error("expected nonzero pid")
	}

	h.Kill()
	waitForExit(t, h, 1*time.Second)
	if h.Running() {
		t.Error("expected process to be stopped")
	}
}

func TestStopAfterExit(t *testing.T) {
	h := launchShell(t, "exit 0")
	waitForExit(t, h, 1*time.Second)

	// Stop and Kill after exit must not panic.
	h.Stop()
	h.Kill()
}

func TestLaunchNonExistentCommand(t *testing.T) {
	_, err := Launch("test", "/nonexistent/command/that/does/not/exist", nil,
		WithLogger(testLogger()))
	if err == nil {
		t.Fatal("expected error for nonexistent command")
	}
}

func TestLaunchEmptyCommand(t *testing.T) {
	if _, err := Launch("test", "", nil, WithLogger(testLogger())); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestOutputHandler(t *testing.T) {
	var lines []string
	handler := &testOutputHandler{lines: &lines}

	h := launchShell(t, "echo line1; echo line2", WithOutputHandler(handler))
	waitForExit(t, h, 1*time.Second)

	if len(lines) < 2 {
		t.Errorf("expected at least 2 lines, got %d: %v", len(lines), lines)
	}
}

func TestOutputHandlerSeesStderr(t *testing.T) {
	var lines []string
	handler := &testOutputHandler{lines: &lines}

	h := launchShell(t, "echo oops >&2", WithOutputHandler(handler))
	waitForExit(t, h, 1*time.Second)

	if len(lines) != 1 || lines[0] != "oops" {
		t.Errorf("expected stderr line, got %v", lines)
	}
}

func TestLogParserRouting(t *testing.T) {
	parsed := make(chan string, 8)
	parser := func(line string) (string, string) {
		parsed <- line
		return "info", line
	}

	h := launchShell(t, `echo "[error] broken"`, WithLogParser(testLogger(), parser))
	waitForExit(t, h, 1*time.Second)

	select {
	case line := <-parsed:
		if line != "[error] broken" {
			t.Errorf("unexpected line through parser: %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("parser never saw process output")
	}
}

type testOutputHandler struct {
	lines *[]string
}

func (h *testOutputHandler) HandleLine(_, line string) {
	*h.lines = append(*h.lines, line)
}
