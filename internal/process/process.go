package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/relayd/internal/logging"
)

// OutputHandler receives output lines from the subprocess.
// Implementations feed progress parsing, event publication, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output.
type LogParser func(line string) (level, msg string)

// ExitStatus describes how a subprocess ended. When the process died on a
// signal, Code follows the shell convention of 128 plus the signal number.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

// KilledExitCode is what a SIGKILL becomes under the 128+signal convention.
const KilledExitCode = 137

// Handle owns one live subprocess. Exactly one exit status is ever recorded
// per handle; Done() unblocks once the process has exited and both output
// streams are drained.
type Handle struct {
	id            string
	cmd           *exec.Cmd
	logger        logging.Logger
	processLogger logging.Logger
	logParser     LogParser
	outputHandler OutputHandler

	gracefulTimeout time.Duration

	done   chan struct{}
	status ExitStatus

	stopOnce sync.Once
}

// Option configures a Handle before launch.
type Option func(*Handle)

// WithLogger overrides the handle's own logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithOutputHandler registers a handler for every stdout/stderr line.
func WithOutputHandler(handler OutputHandler) Option {
	return func(h *Handle) {
		h.outputHandler = handler
	}
}

// WithLogParser sets a dedicated logger and log parser for process output.
// The parser extracts log levels from process-specific output formats.
func WithLogParser(logger logging.Logger, parser LogParser) Option {
	return func(h *Handle) {
		h.processLogger = logger
		h.logParser = parser
	}
}

// WithGracefulTimeout overrides the grace window between the interrupt
// signal and the forced kill. Default is 5 seconds.
func WithGracefulTimeout(d time.Duration) Option {
	return func(h *Handle) {
		h.gracefulTimeout = d
	}
}

// Launch starts a subprocess and returns immediately after creation. The
// returned handle streams output in the background and records the exit
// status once.
func Launch(id, name string, args []string, opts ...Option) (*Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("empty command")
	}

	h := &Handle{
		id:              id,
		logger:          logging.GetLogger("process"),
		gracefulTimeout: 5 * time.Second,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.cmd = exec.Command(name, args...)
	h.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := h.cmd.StdoutPipe()
	if err != nil {
		h.logger.Error("Failed to create stdout pipe", "error", err)
		return nil, err
	}
	stderr, err := h.cmd.StderrPipe()
	if err != nil {
		h.logger.Error("Failed to create stderr pipe", "error", err)
		return nil, err
	}

	if err := h.cmd.Start(); err != nil {
		h.logger.Error("Failed to start process", "id", id, "error", err)
		return nil, err
	}

	h.logger.Info("Process started", "id", id, "pid", h.cmd.Process.Pid)

	outputDone := make(chan struct{}, 2)
	go func() {
		h.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		h.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	go h.wait(outputDone)

	return h, nil
}

// wait drains both output streams, reaps the process, and records the exit
// status exactly once.
func (h *Handle) wait(outputDone <-chan struct{}) {
	<-outputDone
	<-outputDone

	err := h.cmd.Wait()
	h.status = exitStatusFromError(err)
	close(h.done)

	h.logger.Info("Process exited",
		"id", h.id, "exit_code", h.status.Code, "signal", h.status.Signal)
}

// exitStatusFromError converts the error from cmd.Wait into an ExitStatus.
func exitStatusFromError(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{
				Code:   128 + int(ws.Signal()),
				Signal: ws.Signal().String(),
				Err:    err,
			}
		}
		return ExitStatus{Code: exitErr.ExitCode(), Err: err}
	}
	return ExitStatus{Code: 1, Err: err}
}

// PID returns the OS process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done unblocks when the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Status returns the recorded exit status. Only valid after Done.
func (h *Handle) Status() ExitStatus {
	select {
	case <-h.done:
		return h.status
	default:
		return ExitStatus{}
	}
}

// Running reports whether the process has not yet exited.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Stop asks the process to exit and escalates to a kill after the grace
// window. Fire and forget: the caller observes the outcome via Done. The
// escalation is dropped immediately when the exit has already been recorded.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		h.logger.Info("Sending SIGINT to process", "id", h.id, "pid", h.cmd.Process.Pid)
		if err := h.cmd.Process.Signal(syscall.SIGINT); err != nil {
			h.logger.Warn("Failed to send SIGINT", "id", h.id, "error", err)
		}

		go func() {
			select {
			case <-h.done:
			case <-time.After(h.gracefulTimeout):
				h.logger.Warn("Graceful shutdown timeout, forcing kill",
					"id", h.id, "timeout", h.gracefulTimeout)
				h.Kill()
			}
		}()
	})
}

// Kill terminates the process immediately without a grace window.
func (h *Handle) Kill() {
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Kill(); err != nil {
		// "process already finished" means it exited between our check
		// and the kill.
		if !errors.Is(err, os.ErrProcessDone) {
			h.logger.Error("Failed to kill process", "id", h.id, "error", err)
		}
	}
}

// streamOutput streams output from the subprocess, forwarding each line to
// the output handler and routing it to the log level the parser reports.
func (h *Handle) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := h.processLogger
	if logger == nil {
		logger = h.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if h.outputHandler != nil {
			h.outputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if h.logParser != nil {
			level, msg = h.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		h.logger.Warn("Error reading output", "source", source, "error", err)
	}
}
