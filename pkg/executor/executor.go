// Package executor spawns step processes and captures their output.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

const (
	defaultShell     = "/bin/sh"
	defaultTailBytes = 64 * 1024
)

// Command describes one shell step to run. Env is overlaid on the parent
// environment; Secrets are exported the same way but never logged.
type Command struct {
	Script     string
	WorkingDir string
	Env        map[string]string
	Secrets    map[string]string
	Timeout    time.Duration
}

// Execution is the observed outcome of a command. Exactly one of TimedOut
// and Cancelled is set when the process was killed by us; Signaled covers
// externally delivered fatal signals.
type Execution struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
	TimedOut  bool
	Cancelled bool
	Signaled  bool
}

// OutputFunc receives output lines as they are produced, tagged with the
// stream name ("stdout" or "stderr").
type OutputFunc func(stream, line string)

// ShellExecutor runs step scripts through the system shell. Each process
// gets its own process group so a kill takes down the whole tree.
type ShellExecutor struct {
	logger    *slog.Logger
	shell     string
	tailBytes int
}

func NewShellExecutor(logger *slog.Logger) *ShellExecutor {
	return &ShellExecutor{
		logger:    logger,
		shell:     defaultShell,
		tailBytes: defaultTailBytes,
	}
}

// Run executes the command and blocks until it exits or is killed. A timeout
// or a cancelled context kills the process group with SIGKILL; the returned
// Execution records which of the two happened. Run returns an error only
// when the process could not be started or observed at all.
func (e *ShellExecutor) Run(ctx context.Context, command Command, onOutput OutputFunc) (*Execution, error) {
	if command.Script == "" {
		return nil, errors.New("command script is empty")
	}

	runCtx := ctx
	timedOut := false

	if command.Timeout > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(ctx, command.Timeout)
		defer cancel()
	}

	cmd := exec.Command(e.shell, "-c", command.Script)
	cmd.Dir = command.WorkingDir
	cmd.Env = buildEnv(command.Env, command.Secrets)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	outTail := newTailBuffer(e.tailBytes)
	errTail := newTailBuffer(e.tailBytes)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	e.logger.DebugContext(ctx, "Started step process", "pid", cmd.Process.Pid, "timeout", command.Timeout)

	var readers sync.WaitGroup

	readers.Add(2)

	go e.consume(&readers, stdout, "stdout", outTail, onOutput)
	go e.consume(&readers, stderr, "stderr", errTail, onOutput)

	done := make(chan error, 1)

	go func() {
		readers.Wait()
		done <- cmd.Wait()
	}()

	var waitErr error

	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		timedOut = ctx.Err() == nil

		e.killGroup(cmd)

		waitErr = <-done
	}

	execution := &Execution{
		Stdout:    outTail.String(),
		Stderr:    errTail.String(),
		Truncated: outTail.Truncated() || errTail.Truncated(),
		TimedOut:  timedOut,
		Cancelled: ctx.Err() != nil,
	}

	if waitErr == nil {
		return execution, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return nil, fmt.Errorf("failed to wait for command: %w", waitErr)
	}

	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if ok && status.Signaled() {
		execution.Signaled = true
		execution.ExitCode = 128 + int(status.Signal())
	} else {
		execution.ExitCode = exitErr.ExitCode()
	}

	return execution, nil
}

func (e *ShellExecutor) consume(wg *sync.WaitGroup, r io.Reader, stream string, tail *tailBuffer, onOutput OutputFunc) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		_, _ = tail.Write([]byte(line + "\n"))

		if onOutput != nil {
			onOutput(stream, line)
		}
	}

	// A line over the scanner cap stops the loop. Keep draining into the
	// tail so the pipe never fills and blocks the child.
	if scanner.Err() != nil {
		_, _ = io.Copy(tail, r)
	}
}

// killGroup sends SIGKILL to the whole process group so children spawned by
// the step die with it.
func (e *ShellExecutor) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// Group may be gone already; fall back to the direct process.
		_ = cmd.Process.Kill()
	}
}

func buildEnv(env, secrets map[string]string) []string {
	merged := os.Environ()

	for key, value := range env {
		merged = append(merged, key+"="+value)
	}

	for key, value := range secrets {
		merged = append(merged, key+"="+value)
	}

	return merged
}
